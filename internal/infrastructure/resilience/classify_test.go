package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/notegen/internal/core/domain"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

func TestClassifyTransportError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorClassification
	}{
		{"canceled", context.Canceled, ErrorClassification{Retryable: false, RecordFailure: false}},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"rate limited", statusErr(429), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"server error", fmt.Errorf("wrap: %w", statusErr(503)), ErrorClassification{Retryable: true, RecordFailure: true}},
		{"bad request", statusErr(400), ErrorClassification{Retryable: false, RecordFailure: false}},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrorClassification{Retryable: true, RecordFailure: true}},
		{"other", errors.New("boom"), ErrorClassification{Retryable: false, RecordFailure: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyTransportError(tc.err); got != tc.want {
				t.Fatalf("ClassifyTransportError(%v) = %+v, want %+v", tc.err, got, tc.want)
			}
		})
	}
}

func TestWithOpenCircuitRetriesOpenBreaker(t *testing.T) {
	classify := WithOpenCircuit(func(error) ErrorClassification { return ErrorClassification{} })

	if got := classify(gobreaker.ErrOpenState); !got.Retryable || !got.RecordFailure {
		t.Fatalf("expected open circuit to be retryable, got %+v", got)
	}
	if got := classify(errors.New("boom")); got.Retryable {
		t.Fatalf("expected base classifier to decide, got %+v", got)
	}
}

func TestWrapTemporary(t *testing.T) {
	if err := WrapTemporary("op", nil, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := WrapTemporary("op", statusErr(503), nil); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 503 to be temporary, got %v", err)
	}
	if err := WrapTemporary("op", fmt.Errorf("call: %w", gobreaker.ErrTooManyRequests), nil); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected half-open rejection to be temporary, got %v", err)
	}
	permanent := statusErr(400)
	if err := WrapTemporary("op", permanent, nil); domain.IsKind(err, domain.ErrTemporary) || !errors.Is(err, permanent) {
		t.Fatalf("expected 400 to pass through, got %v", err)
	}
	already := domain.WrapError(domain.ErrTemporary, "inner", errors.New("x"))
	if err := WrapTemporary("op", already, nil); err != already {
		t.Fatalf("expected temporary error to be returned as is, got %v", err)
	}
}
