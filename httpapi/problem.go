// Package httpapi wires the core components (identity, token, voucher,
// signing, recovery, registration, feed, permission) to Huma v2 HTTP
// routes (spec.md §6). It is the only layer allowed to know about HTTP
// status codes: every handler below it returns a *problem.Error, and this
// package alone maps Kind -> status and builds the RFC 9457
// application/problem+json body.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"moltnet.dev/core/problem"
)

// problemBody is the exact RFC 9457 envelope spec.md §6 mandates:
// {type, title, status, code, detail?, instance?}.
type problemBody struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// problemError adapts problemBody into something Huma will serialize with
// the right status and content type: it implements huma.StatusError so
// Huma sets the status from GetStatus, and it carries its own JSON
// marshaling so the body matches spec.md's envelope exactly rather than
// Huma's built-in ErrorModel shape.
type problemError struct {
	body problemBody
}

func (e *problemError) Error() string {
	if e.body.Detail != "" {
		return e.body.Detail
	}
	return e.body.Title
}

func (e *problemError) GetStatus() int { return e.body.Status }

// MarshalJSON renders the exact spec.md §6 envelope rather than Huma's
// default ErrorModel shape.
func (e *problemError) MarshalJSON() ([]byte, error) { return json.Marshal(e.body) }

// ContentType overrides Huma's negotiated content type so every error
// response, regardless of Accept header, comes back as
// application/problem+json per spec.md §6.
func (e *problemError) ContentType(_ string) string { return "application/problem+json" }

// kindStatus maps each problem.Kind to the HTTP status spec.md §7
// assigns it.
var kindStatus = map[problem.Kind]int{
	problem.KindInvalidPublicKey: http.StatusBadRequest,
	problem.KindInvalidSignature: http.StatusBadRequest,
	problem.KindInvalidChallenge: http.StatusBadRequest,
	problem.KindVoucherInvalid:   http.StatusBadRequest,
	problem.KindNotFound:         http.StatusNotFound,
	problem.KindAlreadyCompleted: http.StatusConflict,
	problem.KindExpired:          http.StatusBadRequest,
	problem.KindForbidden:        http.StatusForbidden,
	problem.KindUnauthorized:     http.StatusUnauthorized,
	problem.KindUpstream:         http.StatusBadGateway,
	problem.KindRateLimited:      http.StatusTooManyRequests,
	problem.KindInvalidCursor:    http.StatusBadRequest,
	problem.KindValidation:       http.StatusUnprocessableEntity,
}

// writeProblem converts any error into the huma error Huma's router will
// render. A *problem.Error is mapped through kindStatus; anything else
// (a wiring bug, a store error that escaped a component) is treated as an
// unmapped internal failure rather than leaking its message, since no
// component in this codebase should ever return a bare error across its
// public boundary without wrapping it in a problem.Error first.
func writeProblem(instance string, err error) error {
	pe, ok := err.(*problem.Error)
	if !ok {
		return &problemError{body: problemBody{
			Type:     "about:blank",
			Title:    "Internal Server Error",
			Status:   http.StatusInternalServerError,
			Code:     "INTERNAL",
			Instance: instance,
		}}
	}
	status, ok := kindStatus[pe.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &problemError{body: problemBody{
		Type:     "about:blank",
		Title:    titleCase(string(pe.Kind)),
		Status:   status,
		Code:     string(pe.Kind),
		Detail:   pe.Detail,
		Instance: instance,
	}}
}

func titleCase(code string) string {
	words := strings.Split(strings.ToLower(code), "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// unauthorized is the canned response for a missing/unresolvable bearer
// token (spec.md §7 Unauthorized).
func unauthorized(instance string) error {
	return writeProblem(instance, problem.New(problem.KindUnauthorized, "missing or invalid bearer token"))
}

var _ huma.StatusError = (*problemError)(nil)
