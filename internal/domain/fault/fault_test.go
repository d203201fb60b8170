package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	if got := KindOf(Validation("bad input")); got != KindValidation {
		t.Errorf("KindOf(validation) = %s", got)
	}
	if got := KindOf(NotFound("missing")); got != KindNotFound {
		t.Errorf("KindOf(not found) = %s", got)
	}

	// Unclassified errors count as store trouble: safe to retry, never
	// surfaced as a business outcome.
	if got := KindOf(errors.New("boom")); got != KindTransientStore {
		t.Errorf("KindOf(plain error) = %s", got)
	}
}

func TestKindOfWrapped(t *testing.T) {
	inner := InsufficientStock("bank %s is short", "bank-1")
	wrapped := fmt.Errorf("fulfill: %w", inner)

	if !IsKind(wrapped, KindInsufficientStock) {
		t.Error("IsKind should see through wrapping")
	}
	if IsKind(wrapped, KindConflict) {
		t.Error("IsKind matched the wrong kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := TransientStore(cause, "request insert failed")
	if !errors.Is(err, cause) {
		t.Error("wrapped cause lost")
	}
}
