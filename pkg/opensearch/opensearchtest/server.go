// Package opensearchtest provides an in-process fake of the small slice of
// the OpenSearch REST API the bridge uses: index existence, index creation,
// document put by id, and ping.
package opensearchtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
)

// Server is an httptest server holding indices and documents in memory.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	indices   map[string]map[string][]byte
	puts      []string
	creates   int
	failures  []int
	raceIndex bool
	authUser  string
}

// NewServer starts a fake OpenSearch node. Call Close when done.
func NewServer() *Server {
	s := &Server{indices: make(map[string]map[string][]byte)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// AddIndex creates an index as if another process had provisioned it.
func (s *Server) AddIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indices[name]; !ok {
		s.indices[name] = make(map[string][]byte)
	}
}

// RaceOnCreate makes the next existence check report "missing" while a
// concurrent creator wins, so create answers resource_already_exists_exception.
func (s *Server) RaceOnCreate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raceIndex = true
}

// FailUpserts makes the next len(statuses) document puts fail with the given
// HTTP status codes, in order.
func (s *Server) FailUpserts(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, statuses...)
}

// HasIndex reports whether the index exists.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// CreateCalls returns how many create-index requests succeeded or raced.
func (s *Server) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// Document returns the stored source of index/id.
func (s *Server) Document(index, id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.indices[index][id]
	return doc, ok
}

// Count returns the number of documents in the index.
func (s *Server) Count(index string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.indices[index])
}

// Puts returns the document ids written, in request order.
func (s *Server) Puts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.puts...)
}

// AuthUser returns the basic-auth user of the most recent request.
func (s *Server) AuthUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authUser
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user, _, ok := r.BasicAuth(); ok {
		s.authUser = user
	}
	parts := strings.Split(strings.Trim(r.URL.EscapedPath(), "/"), "/")
	for i, part := range parts {
		if unescaped, err := url.PathUnescape(part); err == nil {
			parts[i] = unescaped
		}
	}
	switch {
	case r.URL.Path == "/":
		writeJSON(w, http.StatusOK, map[string]any{"cluster_name": "fake", "version": map[string]string{"number": "7.10.2"}})
	case len(parts) == 1 && r.Method == http.MethodHead:
		s.handleExists(w, parts[0])
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.handleCreate(w, parts[0])
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodPut:
		s.handlePut(w, r, parts[0], parts[2])
	default:
		writeError(w, http.StatusMethodNotAllowed, "unsupported_operation_exception", r.Method+" "+r.URL.Path)
	}
}

func (s *Server) handleExists(w http.ResponseWriter, index string) {
	if _, ok := s.indices[index]; ok && !s.raceIndex {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (s *Server) handleCreate(w http.ResponseWriter, index string) {
	s.creates++
	if s.raceIndex {
		s.raceIndex = false
		if _, ok := s.indices[index]; !ok {
			s.indices[index] = make(map[string][]byte)
		}
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+index+"] already exists")
		return
	}
	if _, ok := s.indices[index]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+index+"] already exists")
		return
	}
	s.indices[index] = make(map[string][]byte)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": index})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, index, id string) {
	if len(s.failures) > 0 {
		status := s.failures[0]
		s.failures = s.failures[1:]
		errType := "es_rejected_execution_exception"
		if status == http.StatusBadRequest {
			errType = "mapper_parsing_exception"
		}
		writeError(w, status, errType, "injected failure")
		return
	}
	docs, ok := s.indices[index]
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+index+"]")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "mapper_parsing_exception", "failed to parse")
		return
	}
	s.puts = append(s.puts, id)
	result, status := "created", http.StatusCreated
	if _, exists := docs[id]; exists {
		result, status = "updated", http.StatusOK
	}
	docs[id] = body
	writeJSON(w, status, map[string]any{"_index": index, "_id": id, "result": result})
}

func writeError(w http.ResponseWriter, status int, errType, reason string) {
	writeJSON(w, status, map[string]any{
		"error":  map[string]string{"type": errType, "reason": reason},
		"status": status,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
