package nats

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

const (
	// attemptHeader counts deliveries of one index event. Core NATS does not
	// redeliver, so the worker republishes events that failed transiently.
	attemptHeader   = "Aqa-Attempt"
	maxDeliveries   = 4
	redeliveryDelay = 2 * time.Second
)

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrInvalidMsg):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err),
		errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrReconnectBufExceeded):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapPublishError maps publish failures onto domain error kinds so the
// HTTP sync endpoint answers 400 or 503.
func wrapPublishError(err error) error {
	switch {
	case err == nil, domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return domain.WrapError(domain.ErrInvalidInput, "nats publish", err)
	case classifyNATSError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	default:
		return err
	}
}

// deliveryAttempt is 1 for a first delivery.
func deliveryAttempt(header nats.Header) int {
	if header == nil {
		return 1
	}
	n, err := strconv.Atoi(header.Get(attemptHeader))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func redeliverable(err error, attempt int) bool {
	return err != nil && domain.IsKind(err, domain.ErrTemporary) && attempt < maxDeliveries
}

// redeliveryBackoff grows linearly with the attempt that just failed.
func redeliveryBackoff(attempt int) time.Duration {
	return time.Duration(attempt) * redeliveryDelay
}
