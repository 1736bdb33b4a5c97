package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrappedSentinelKeepsIdentity(t *testing.T) {
	err := fmt.Errorf("approve request r1: %w", Wrap(ErrInsufficientStock, context.Canceled))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatal("expected errors.Is to match the sentinel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("expected the cause to stay reachable")
	}
	if errors.Is(err, ErrItemInUse) {
		t.Fatal("different codes must not match")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Field("quantity", "must be >= 1"), http.StatusBadRequest},
		{ErrMissingCredential, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrItemNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", ErrInsufficientStock), http.StatusConflict},
		{ErrTransient, http.StatusServiceUnavailable},
		{ErrInvariant, http.StatusInternalServerError},
		{ErrTooManyAttempts, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestValidationMessage(t *testing.T) {
	one := Field("email", "email is required")
	if one.Message != "email is required" {
		t.Fatalf("message = %q", one.Message)
	}
	many := Validation(FieldError{"a", "x"}, FieldError{"b", "y"})
	if many.Message != "invalid request" || len(many.Fields) != 2 {
		t.Fatalf("unexpected %+v", many)
	}
}
