package errs

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesVenueAndCode(t *testing.T) {
	err := New(
		"pionex",
		CodeExchange,
		WithHTTP(503),
		WithMessage("order rejected"),
		WithRawCode("TRADE_INVALID_SYMBOL"),
		WithRawMessage("symbol not tradable"),
		WithCause(errors.New("pionex http 503")),
	)

	out := err.Error()
	if !strings.Contains(out, "venue=pionex") {
		t.Fatalf("expected venue marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=exchange_error") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "http=503") {
		t.Fatalf("expected http status in error string: %s", out)
	}
	if !strings.Contains(out, "raw_code=\"TRADE_INVALID_SYMBOL\"") {
		t.Fatalf("expected raw exchange code in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"pionex http 503\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestEmptyVenueAndCodeFallBackToUnknown(t *testing.T) {
	err := New("  ", "")
	out := err.Error()
	if !strings.Contains(out, "venue=unknown") {
		t.Fatalf("expected unknown venue marker: %s", out)
	}
	if !strings.Contains(out, "code=unknown") {
		t.Fatalf("expected unknown code marker: %s", out)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := New("pionex", CodeNetwork, WithCause(cause))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match wrapped cause")
	}
}

func TestInvalidHelper(t *testing.T) {
	err := Invalid("side is required")
	if err.Code != CodeInvalid {
		t.Fatalf("expected invalid_request code, got %q", err.Code)
	}
	if !strings.Contains(err.Error(), "side is required") {
		t.Fatalf("expected message in error string: %s", err.Error())
	}
}
