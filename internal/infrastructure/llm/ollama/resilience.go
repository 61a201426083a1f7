package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/archive-qa/internal/core/domain"
	"github.com/kirillkom/archive-qa/internal/infrastructure/resilience"
)

// StatusError is a non-2xx reply from Ollama.
type StatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, e.Body)
}

// ModelMissing reports a model that is not pulled on the server. It is a
// deployment problem, so it is never retried.
func (e *StatusError) ModelMissing() bool {
	return e.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(e.Body), "model")
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var (
	retryAndRecord = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	recordOnly     = resilience.ErrorClassification{RecordFailure: true}
	ignore         = resilience.ErrorClassification{}
)

func classifyOllamaError(err error) resilience.ErrorClassification {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ignore
	case errors.Is(err, context.DeadlineExceeded):
		// Attempt timeouts on a slow model are worth one more try; the
		// executor stops once the stage deadline is too close.
		return retryAndRecord
	case resilience.IsCircuitOpen(err):
		return retryAndRecord
	case errors.As(err, &statusErr):
		if statusErr.ModelMissing() {
			return recordOnly
		}
		if retryableStatus[statusErr.StatusCode] {
			return retryAndRecord
		}
		return ignore
	case errors.As(err, &netErr):
		return retryAndRecord
	default:
		return recordOnly
	}
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if classifyOllamaError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
