package ferrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{New(KindValidation, "bad"), http.StatusBadRequest},
		{NoData(http.StatusNoContent), http.StatusNoContent},
		{NoData(http.StatusNotFound), http.StatusNotFound},
		{New(KindPayloadTooLarge, "too big"), http.StatusRequestEntityTooLarge},
		{New(KindRoutingUnavailable, "down"), http.StatusInternalServerError},
		{New(KindUpstreamUnavailable, "down"), http.StatusServiceUnavailable},
		{New(KindInternal, "oops"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		if got := tc.err.HTTPStatus(); got != tc.want {
			t.Errorf("%s: HTTPStatus() = %d, want %d", tc.err.Kind, got, tc.want)
		}
	}
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := New(KindUpstreamUnavailable, "connect refused")
	wrapped := fmt.Errorf("fetching route: %w", base)

	got, ok := As(wrapped)
	if !ok {
		t.Fatalf("expected As to recover wrapped *Error")
	}
	if got.Kind != KindUpstreamUnavailable {
		t.Fatalf("unexpected kind: %s", got.Kind)
	}

	if _, ok := As(errors.New("plain error")); ok {
		t.Fatalf("expected As to fail on a plain error")
	}
}

func TestMarshalJSON(t *testing.T) {
	err := New(KindNoData, "empty selection")
	b, jsonErr := err.MarshalJSON()
	if jsonErr != nil {
		t.Fatalf("unexpected marshal error: %s", jsonErr)
	}
	want := `{"error":"NoData: empty selection","kind":"NoData"}`
	if string(b) != want {
		t.Fatalf("got %s, want %s", b, want)
	}
}
