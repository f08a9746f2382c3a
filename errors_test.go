package vkernel

import (
	"errors"
	"testing"
)

func TestWrapNilIsNil(t *testing.T) {
	if err := wrap("Op", KindIO, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := wrap("Upsert", KindValidation, ErrInvalidVector)
	if !errors.Is(err, ErrInvalidVector) {
		t.Fatalf("expected errors.Is to match ErrInvalidVector, got %v", err)
	}
	var kernelErr *Error
	if !errors.As(err, &kernelErr) {
		t.Fatalf("expected errors.As to recover *Error")
	}
	if kernelErr.Op != "Upsert" || kernelErr.Kind != KindValidation {
		t.Fatalf("got Op=%q Kind=%v", kernelErr.Op, kernelErr.Kind)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConfiguration: "configuration",
		KindValidation:    "validation",
		KindNotFound:      "not_found",
		KindIO:            "io",
		KindConcurrency:   "concurrency",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
