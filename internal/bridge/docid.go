package bridge

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
)

// IDFunc derives the document id of an event from its payload. It must be a
// pure function of the payload so redelivery overwrites instead of duplicating.
type IDFunc func(payload []byte) (string, error)

// NewIDFunc returns the derivation for a configured strategy.
func NewIDFunc(strategy, field string) (IDFunc, error) {
	switch strategy {
	case config.IDStrategyHash, "":
		return HashID, nil
	case config.IDStrategyField:
		if field == "" {
			return nil, fmt.Errorf("%w: field id strategy needs a field path", apperrors.ErrInvalidConfig)
		}
		return FieldID(field), nil
	default:
		return nil, fmt.Errorf("%w: unknown id strategy %q", apperrors.ErrInvalidConfig, strategy)
	}
}

// ContentHash is the lowercase hex SHA-256 of the payload bytes.
func ContentHash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// HashID derives the id from the payload content alone.
func HashID(payload []byte) (string, error) {
	return ContentHash(payload), nil
}

// FieldID derives the id from the scalar at a dotted JSON path such as
// "meta.id". Strings are used verbatim and numbers in their literal form.
// A missing, empty or non-scalar value falls back to the content hash, as
// does a string containing "/", which cannot be used as a path segment.
func FieldID(path string) IDFunc {
	segments := strings.Split(path, ".")
	return func(payload []byte) (string, error) {
		if !json.Valid(payload) {
			return "", fmt.Errorf("%w: payload is not valid JSON", apperrors.ErrMalformedPayload)
		}
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.UseNumber()
		var cur any
		if err := dec.Decode(&cur); err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrMalformedPayload, err)
		}
		for _, seg := range segments {
			obj, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = obj[seg]
		}
		switch v := cur.(type) {
		case string:
			if v != "" && !strings.Contains(v, "/") {
				return v, nil
			}
		case json.Number:
			return v.String(), nil
		}
		return ContentHash(payload), nil
	}
}
