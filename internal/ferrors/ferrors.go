// Package ferrors defines the error taxonomy shared across the routing,
// gateway and ingress packages (spec §7).
package ferrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories from spec §7.
type Kind int

const (
	// KindValidation corresponds to a malformed client selection.
	KindValidation Kind = iota
	// KindNoData means the federated response would contain no bytes.
	KindNoData
	// KindPayloadTooLarge means a duration ceiling (or client_max_size)
	// was exceeded.
	KindPayloadTooLarge
	// KindRoutingUnavailable means the routing service could not be
	// reached or returned a server error.
	KindRoutingUnavailable
	// KindUpstreamUnavailable means every reachable data endpoint failed.
	KindUpstreamUnavailable
	// KindInternal is everything else, including precondition
	// violations the implementation refuses to silently paper over
	// (spec §9, JSON tail-recovery rescan window).
	KindInternal
	// KindCancelled means the client disconnected or streaming_timeout
	// elapsed.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNoData:
		return "NoData"
	case KindPayloadTooLarge:
		return "PayloadTooLarge"
	case KindRoutingUnavailable:
		return "RoutingUnavailable"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	case KindInternal:
		return "InternalError"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// NoContentStatuses is the set of upstream HTTP statuses treated as
// silent no-data, per spec §6 and SPEC_FULL §C.6.
var NoContentStatuses = map[int]bool{
	http.StatusNoContent: true,
	http.StatusNotFound:  true,
}

// Error is the typed error every package in this module raises before or
// after response commitment (spec §7).
type Error struct {
	Kind Kind
	Msg  string
	Err  error

	// NoDataCode is only meaningful for KindNoData: the client-selected
	// "no data" HTTP status, either 204 or 404 (SPEC_FULL §C.7).
	NoDataCode int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the error kind to the client-surface status code from
// spec §6/§7.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNoData:
		if e.NoDataCode == http.StatusNotFound {
			return http.StatusNotFound
		}
		return http.StatusNoContent
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindRoutingUnavailable:
		return http.StatusInternalServerError
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return 499 // client closed request; no official IANA status
	default:
		return http.StatusInternalServerError
	}
}

// New constructs an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an *Error of the given kind wrapping a lower-level
// error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// NoData constructs the KindNoData error carrying the client-selected
// no-data status code.
func NoData(noDataCode int) *Error {
	return &Error{Kind: KindNoData, Msg: "no data for selection", NoDataCode: noDataCode}
}

// body is the machine-readable error body sent to clients, per spec §7
// ("errors ... become HTTP error responses with a machine-readable
// body").
type body struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// MarshalJSON renders the client-visible error body.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(body{Error: e.Error(), Kind: e.Kind.String()})
}

// As recovers a *Error from err, unwrapping as needed.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
