// Package popup implements the one-shot channel between the provider and the short-lived
// popup windows it opens to collect a login or a permission decision.
package popup

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	appErrors "github.com/charlesng35/skyprovider/pkg/errors"
)

// Kind identifies which popup page a handle belongs to.
type Kind string

const (
	KindLogin      Kind = "login"
	KindPermission Kind = "permission"
)

// Valid reports whether k is a known popup kind.
func (k Kind) Valid() bool {
	return k == KindLogin || k == KindPermission
}

// Status is the terminal state of a popup handle.
type Status string

const (
	// StatusPayload means the popup delivered a well-formed result.
	StatusPayload Status = "payload"
	// StatusClosed means the window went away without answering.
	StatusClosed Status = "closed"
	// StatusError means the popup failed or sent something unusable.
	StatusError Status = "error"
)

// Decision is the answer of a permission popup.
type Decision string

const (
	DecisionGrant Decision = "grant"
	DecisionDeny  Decision = "deny"
)

// closedMessage is what a popup posts from its unload hook when it was never submitted.
const closedMessage = "closed"

var (
	ErrMalformedResponse = appErrors.New("popup.malformed_response", "Popup returned a malformed response", http.StatusUnprocessableEntity)
	ErrPopupBlocked      = appErrors.New("popup.blocked", "Popup was blocked by the browser", http.StatusConflict)
	ErrPopupInFlight     = appErrors.New("popup.in_flight", "A popup of this kind is already open", http.StatusConflict)
	ErrHandleNotFound    = appErrors.New("popup.not_found", "Popup is no longer open", http.StatusNotFound)
	ErrInvalidToken      = appErrors.New("popup.invalid_token", "Popup token is invalid or expired", http.StatusUnauthorized)
	ErrPopupFailed       = appErrors.New("popup.failed", "Popup reported an error", http.StatusBadGateway)
	ErrForeignDevice     = appErrors.New("popup.foreign_device", "Popup was opened by another browser", http.StatusForbidden)
)

// LoginPayload is the result of the login popup. An empty Identity means the identity
// must be derived from the secret.
type LoginPayload struct {
	Secret   string `json:"secret"`
	Identity string `json:"identity"`
}

// Outcome is the single terminal result of a popup handle.
type Outcome struct {
	Kind     Kind
	Status   Status
	Login    *LoginPayload
	Decision Decision
	Err      error
}

// Closed builds the synthetic outcome for a window that disappeared without answering.
func Closed(kind Kind) Outcome {
	return Outcome{Kind: kind, Status: StatusClosed}
}

// Failed builds an error outcome.
func Failed(kind Kind, err error) Outcome {
	return Outcome{Kind: kind, Status: StatusError, Err: err}
}

// ParsePayload turns the raw JSON body posted by a popup into an Outcome. The literal
// string "closed" is treated as an abandonment from any popup kind.
func ParsePayload(kind Kind, raw []byte) Outcome {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Failed(kind, ErrMalformedResponse.WithMessage("Popup returned an empty response"))
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if text == closedMessage {
			return Closed(kind)
		}
		if kind == KindPermission {
			switch Decision(text) {
			case DecisionGrant, DecisionDeny:
				return Outcome{Kind: kind, Status: StatusPayload, Decision: Decision(text)}
			}
		}
		return Failed(kind, ErrMalformedResponse)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Failed(kind, ErrMalformedResponse)
	}
	if msg, ok := fields["error"]; ok {
		var reason string
		_ = json.Unmarshal(msg, &reason)
		return Failed(kind, ErrPopupFailed.WithMessage(popupErrorMessage(reason)))
	}
	if kind != KindLogin {
		return Failed(kind, ErrMalformedResponse)
	}

	var payload LoginPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Failed(kind, ErrMalformedResponse)
	}
	if _, ok := fields["identity"]; !ok || strings.TrimSpace(payload.Secret) == "" {
		return Failed(kind, ErrMalformedResponse)
	}
	return Outcome{Kind: kind, Status: StatusPayload, Login: &payload}
}

func popupErrorMessage(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrPopupFailed.Message
	}
	return "Popup reported an error: " + reason
}
