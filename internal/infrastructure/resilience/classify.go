package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/kirillkom/notegen/internal/core/domain"
)

// StatusError is implemented by provider errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// ClassifyTransportError is the shared policy for OCR and LLM providers:
// timeouts, network failures, 429 and 5xx are retried; caller cancellation
// is neither retried nor counted against the breaker.
func ClassifyTransportError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatus()
		switch {
		case code == http.StatusTooManyRequests, code >= 500:
			return ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}

// WithOpenCircuit counts an open breaker as a retryable failure on top of
// classifier.
func WithOpenCircuit(classifier ErrorClassifier) ErrorClassifier {
	if classifier == nil {
		classifier = ClassifyTransportError
	}
	return func(err error) ErrorClassification {
		if IsCircuitOpen(err) {
			return ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return classifier(err)
	}
}

// WrapTemporary marks failures that classifier deems retryable, and open
// circuits, as domain.ErrTemporary. Other errors pass through unchanged.
func WrapTemporary(operation string, err error, classifier ErrorClassifier) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifier == nil {
		classifier = ClassifyTransportError
	}
	if IsCircuitOpen(err) || classifier(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
