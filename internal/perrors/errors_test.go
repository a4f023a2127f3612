package perrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := NotFound("entity missing")
	kind, ok := KindOf(err)
	if !ok || kind != KindNotFound {
		t.Fatalf("KindOf() = %v, %v, want %v, true", kind, ok, KindNotFound)
	}
}

func TestKindOfWrapped(t *testing.T) {
	cause := SchemaInvalid("bad document", errors.New("boom"))
	wrapped := fmt.Errorf("register: %w", cause)

	kind, ok := KindOf(wrapped)
	if !ok || kind != KindSchemaInvalid {
		t.Fatalf("KindOf(wrapped) = %v, %v, want %v, true", kind, ok, KindSchemaInvalid)
	}
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	if ok {
		t.Fatal("KindOf() on a plain error should report false")
	}
}

func TestIsKind(t *testing.T) {
	if !IsKind(Overloaded("pool exhausted"), KindOverloaded) {
		t.Fatal("IsKind should match the constructed kind")
	}
	if IsKind(Overloaded("pool exhausted"), KindTimeout) {
		t.Fatal("IsKind should not match an unrelated kind")
	}
}

func TestErrorsIsSentinel(t *testing.T) {
	err := NotFound("entity missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("errors.Is should match the ErrNotFound sentinel regardless of message")
	}
	if errors.Is(err, ErrBadQuery) {
		t.Fatal("errors.Is should not match an unrelated sentinel")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying cause")
	err := DependencyUnavailable("call failed", cause)
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should see through Unwrap to the original cause")
	}
}

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := FatalCorruption("batch commit", cause)
	msg := err.Error()
	if msg == "" {
		t.Fatal("Error() should not be empty")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause should be reachable via errors.Is")
	}
}
