package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapReturnsNilForNilCause(t *testing.T) {
	t.Parallel()
	if err := Wrap("op", "subject", Internal, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCodeOfUnwrapsThroughFmtErrorf(t *testing.T) {
	t.Parallel()
	base := New("vehicle_in", "slot", Conflict, "slot occupied")
	if got := CodeOf(fmt.Errorf("outer: %w", base)); got != Conflict {
		t.Fatalf("expected Conflict through a %%w-wrapped error, got %s", got)
	}
	wrapped := errors.New("outer: " + base.Error())
	if CodeOf(wrapped) != Internal {
		t.Fatalf("a plain error should default to Internal")
	}
	if CodeOf(base) != Conflict {
		t.Fatalf("expected Conflict, got %s", CodeOf(base))
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()
	cases := map[Code]int{
		BadInput:           http.StatusBadRequest,
		Unauthorized:       http.StatusUnauthorized,
		NotFound:           http.StatusNotFound,
		Conflict:           http.StatusConflict,
		NetworkUnavailable: http.StatusServiceUnavailable,
		Timeout:            http.StatusServiceUnavailable,
		Internal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%s): got %d, want %d", code, got, want)
		}
	}
}

func TestMessageStripsOpSubjectCodePrefix(t *testing.T) {
	t.Parallel()
	err := New("delete_slot", "slot", NotFound, "slot does not exist")
	if Message(err) != "slot does not exist" {
		t.Fatalf("expected bare message, got %q", Message(err))
	}
}
