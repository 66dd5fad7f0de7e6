// Package opensearch implements the document sink of the bridge on top of the
// go-elasticsearch v7 client, which speaks the OpenSearch REST API. Requests
// go through a go-retryablehttp transport so transient store failures (429,
// 5xx, dropped connections) are retried by the client, never by the loop.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
)

// Sink writes documents into an OpenSearch index.
type Sink struct {
	es      *elasticsearch.Client
	http    *retryablehttp.Client
	refresh string
	logger  *slog.Logger
}

// New builds a Sink from cfg. Credentials are taken from the user-info
// segment of cfg.URL when present.
func New(cfg config.OpenSearchConfig) (*Sink, error) {
	ep, err := ParseConnString(cfg.URL)
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("component", "opensearch-sink", "address", ep.Address)

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.RequestTimeout > 0 {
		rc.HTTPClient.Timeout = cfg.RequestTimeout
	}
	rc.Logger = logger

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{ep.Address},
		Username:     ep.Username,
		Password:     ep.Password,
		Transport:    &retryablehttp.RoundTripper{Client: rc},
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating opensearch client: %v", apperrors.ErrInvalidConfig, err)
	}
	logger.Info("opensearch client created", "basic_auth", ep.HasAuth())
	return &Sink{
		es:      es,
		http:    rc,
		refresh: cfg.Refresh,
		logger:  logger,
	}, nil
}

// Exists reports whether the index is present.
func (s *Sink) Exists(ctx context.Context, index string) (bool, error) {
	res, err := s.es.Indices.Exists([]string{index}, s.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("checking index %s: %w: %w", index, apperrors.ErrProvisioning, err)
	}
	defer drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("checking index %s: %w: status %d", index, apperrors.ErrProvisioning, res.StatusCode)
	}
}

// Create creates the index with default settings. A concurrent creation by
// another instance surfaces as ErrAlreadyExists.
func (s *Sink) Create(ctx context.Context, index string) error {
	res, err := s.es.Indices.Create(index, s.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("creating index %s: %w: %w", index, apperrors.ErrProvisioning, err)
	}
	defer drain(res)
	if !res.IsError() {
		return nil
	}
	reason := decodeError(res.Body)
	if reason.Type == "resource_already_exists_exception" {
		return fmt.Errorf("creating index %s: %w", index, apperrors.ErrAlreadyExists)
	}
	return fmt.Errorf("creating index %s: %w: status %d %s: %s",
		index, apperrors.ErrProvisioning, res.StatusCode, reason.Type, reason.Reason)
}

// Upsert indexes payload under id, overwriting any previous version. The
// payload must be a JSON object. The id is path-escaped, so ids holding
// characters such as '?', '#' or '%' address their own document.
func (s *Sink) Upsert(ctx context.Context, index, id string, payload []byte) error {
	if err := validateDocument(payload); err != nil {
		return err
	}
	opts := []func(*esapi.IndexRequest){
		s.es.Index.WithContext(ctx),
		s.es.Index.WithDocumentID(url.PathEscape(id)),
	}
	if s.refresh != "" {
		opts = append(opts, s.es.Index.WithRefresh(s.refresh))
	}
	res, err := s.es.Index(index, bytes.NewReader(payload), opts...)
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Op == "parse" {
		// The request never left the process; resending it cannot succeed.
		return fmt.Errorf("indexing %s/%s: %w: building request: %v", index, id, apperrors.ErrMalformedPayload, err)
	}
	if err != nil {
		return fmt.Errorf("indexing %s/%s: %w: %w", index, id, apperrors.ErrStore, err)
	}
	defer drain(res)
	if !res.IsError() {
		return nil
	}
	reason := decodeError(res.Body)
	if res.StatusCode == http.StatusBadRequest && isParseFailure(reason.Type) {
		return fmt.Errorf("indexing %s/%s: %w: %s: %s", index, id, apperrors.ErrMalformedPayload, reason.Type, reason.Reason)
	}
	return fmt.Errorf("indexing %s/%s: %w: status %d %s: %s",
		index, id, apperrors.ErrStore, res.StatusCode, reason.Type, reason.Reason)
}

// Ping checks that the cluster answers.
func (s *Sink) Ping(ctx context.Context) error {
	res, err := s.es.Ping(s.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("pinging opensearch: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("pinging opensearch: status %d", res.StatusCode)
	}
	return nil
}

// Close releases idle connections held by the transport.
func (s *Sink) Close() error {
	s.http.HTTPClient.CloseIdleConnections()
	return nil
}

type errorReason struct {
	Type   string
	Reason string
}

// decodeError extracts the root cause of an OpenSearch error body.
func decodeError(body io.Reader) errorReason {
	var envelope struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return errorReason{}
	}
	return errorReason{Type: envelope.Error.Type, Reason: envelope.Error.Reason}
}

func isParseFailure(errType string) bool {
	switch errType {
	case "mapper_parsing_exception", "document_parsing_exception", "parse_exception", "not_x_content_exception":
		return true
	}
	return false
}

// validateDocument rejects payloads the store could never index as a document.
func validateDocument(payload []byte) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return fmt.Errorf("%w: empty payload", apperrors.ErrMalformedPayload)
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("%w: payload is not valid JSON", apperrors.ErrMalformedPayload)
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", apperrors.ErrMalformedPayload)
	}
	return nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	res.Body.Close()
}
