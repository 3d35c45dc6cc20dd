package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorRendersPrefixedMessage(t *testing.T) {
	err := New(KindValidation, "pipeline", "stage guard failed")
	if got := err.Error(); got != "pipeline: stage guard failed" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindResource, "memory", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to survive errors.Is")
	}
	if KindOf(err) != KindResource {
		t.Fatalf("kind = %s, want %s", KindOf(err), KindResource)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(KindNetwork, "export", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	inner := New(KindTimeout, "stage", "deadline exceeded")
	outer := fmt.Errorf("engine: run: %w", inner)
	if KindOf(outer) != KindTimeout {
		t.Fatalf("kind = %s, want %s", KindOf(outer), KindTimeout)
	}
	if !Is(outer, KindTimeout) {
		t.Fatalf("Is should find timeout in the chain")
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("plain errors should classify as internal")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil should have no kind")
	}
}

func TestTransientCoversRetryClass(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindResource, true},
		{KindTimeout, true},
		{KindNetwork, true},
		{KindValidation, false},
		{KindConfiguration, false},
		{KindInternal, false},
	}
	for _, tc := range cases {
		err := New(tc.kind, "op", "msg")
		if got := Transient(err); got != tc.want {
			t.Fatalf("Transient(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
	if Transient(nil) {
		t.Fatalf("nil is not transient")
	}
}
