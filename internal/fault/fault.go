// Package fault defines the typed failures the proxy and broker surface to
// the route layer: NotFound, Inactive, Timeout, Upstream and Validation.
// Handlers map them to JSON {success:false, message, ...} responses; none of
// them are process-fatal.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	// NotFound: unknown provider/endpoint/connection/query. Always safe to
	// report with identifying context.
	NotFound Kind = iota
	// Inactive: the resource exists but is disabled. Reported distinctly
	// from NotFound so operators can tell "never existed" from "turned off".
	Inactive
	// Timeout: the fixed SSH/DB setup deadline or an upstream deadline was
	// exceeded.
	Timeout
	// Upstream: the external API or database failed after we connected. The
	// original status and message are preserved when available.
	Upstream
	// Validation: malformed path-parameter substitution, missing required
	// parameters, or an invariant-violating configuration.
	Validation
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Inactive:
		return "inactive"
	case Timeout:
		return "timeout"
	case Upstream:
		return "upstream_error"
	case Validation:
		return "validation_error"
	default:
		return "unknown"
	}
}

// Fault is a typed failure with an optional upstream status code and an
// optional detail payload (e.g. availableEndpoints on a match miss).
type Fault struct {
	Kind    Kind
	Message string
	// Status overrides the default HTTP status for the kind. Used when an
	// upstream returned its own error status that must be surfaced verbatim.
	Status int
	// Detail is merged into the JSON error body under its own keys.
	Detail map[string]any
	// Err is the wrapped cause, if any.
	Err error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Fault) Unwrap() error { return f.Err }

// HTTPStatus returns the status code the route layer should respond with.
func (f *Fault) HTTPStatus() int {
	if f.Status != 0 {
		return f.Status
	}
	switch f.Kind {
	case NotFound:
		return http.StatusNotFound
	case Inactive:
		return http.StatusBadRequest
	case Timeout:
		return http.StatusGatewayTimeout
	case Upstream:
		return http.StatusInternalServerError
	case Validation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// As extracts a *Fault from an error chain, or wraps an arbitrary error as
// an Upstream fault so handlers always have something renderable.
func As(err error) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: Upstream, Message: err.Error(), Err: err}
}

// IsKind reports whether err carries a Fault of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Fault
	return errors.As(err, &f) && f.Kind == kind
}
