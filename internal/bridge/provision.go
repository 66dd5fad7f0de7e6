package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/resilience"
)

// ProvisionResult says how the destination came to exist.
type ProvisionResult string

const (
	ProvisionExisting ProvisionResult = "existing"
	ProvisionCreated  ProvisionResult = "created"
	// ProvisionRaced means another instance created it between check and create.
	ProvisionRaced  ProvisionResult = "raced"
	ProvisionFailed ProvisionResult = "failed"
)

// EnsureDestination checks that the destination exists and creates it
// otherwise. Losing a creation race to another instance counts as success;
// every other failure wraps ErrProvisioning.
func EnsureDestination(ctx context.Context, sink DocumentSink, name string) (ProvisionResult, error) {
	exists, err := sink.Exists(ctx, name)
	if err != nil {
		return ProvisionFailed, provisioningError(name, err)
	}
	if exists {
		return ProvisionExisting, nil
	}
	err = sink.Create(ctx, name)
	switch {
	case err == nil:
		return ProvisionCreated, nil
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return ProvisionRaced, nil
	default:
		return ProvisionFailed, provisioningError(name, err)
	}
}

func provisioningError(name string, err error) error {
	if errors.Is(err, apperrors.ErrProvisioning) {
		return err
	}
	return fmt.Errorf("ensuring destination %s: %w: %w", name, apperrors.ErrProvisioning, err)
}

// Provisioner bounds EnsureDestination by a timeout and collapses concurrent
// callers for the same destination into one round of requests.
type Provisioner struct {
	sink    DocumentSink
	timeout time.Duration
	group   singleflight.Group
	logger  *slog.Logger
}

// NewProvisioner creates a Provisioner. A non-positive timeout disables the bound.
func NewProvisioner(sink DocumentSink, timeout time.Duration) *Provisioner {
	return &Provisioner{
		sink:    sink,
		timeout: timeout,
		logger:  slog.Default().With("component", "provisioner"),
	}
}

// Ensure makes sure the destination exists before any upsert is attempted.
func (p *Provisioner) Ensure(ctx context.Context, name string) (ProvisionResult, error) {
	v, err, shared := p.group.Do(name, func() (interface{}, error) {
		result, err := resilience.WithTimeout(ctx, p.timeout, apperrors.ErrProvisioning, func(ctx context.Context) (ProvisionResult, error) {
			return EnsureDestination(ctx, p.sink, name)
		})
		if err != nil {
			return ProvisionFailed, provisioningError(name, err)
		}
		return result, nil
	})
	result := v.(ProvisionResult)
	if err != nil {
		p.logger.Error("destination provisioning failed", "destination", name, "error", err)
		return result, err
	}
	switch result {
	case ProvisionCreated:
		p.logger.Info("destination created", "destination", name, "shared", shared)
	case ProvisionRaced:
		p.logger.Info("destination created concurrently by another instance", "destination", name)
	default:
		p.logger.Info("destination already exists", "destination", name)
	}
	return result, nil
}
