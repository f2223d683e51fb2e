package provider

import (
	"net/http"

	"github.com/charlesng35/skyprovider/internal/popup"
	appErrors "github.com/charlesng35/skyprovider/pkg/errors"
)

var (
	ErrNotConnected          = appErrors.New("provider.not_connected", "Provider is not connected", http.StatusConflict)
	ErrMethodNotDeclared     = appErrors.New("provider.method_not_declared", "Method is not declared by the provider interface", http.StatusBadRequest)
	ErrMethodNotImplemented  = appErrors.New("provider.method_not_implemented", "Method is declared but not implemented by the provider", http.StatusInternalServerError)
	ErrUserCancelled         = appErrors.New("provider.user_cancelled", "User closed the popup without answering", http.StatusConflict)
	ErrPermissionDenied      = appErrors.New("provider.permission_denied", "User denied the permission", http.StatusForbidden)
	ErrStoreTimeout          = appErrors.New("provider.store_timeout", "Backing store did not respond in time", http.StatusGatewayTimeout)
	ErrIdentityNotFound      = appErrors.New("provider.identity_not_found", "No identity is registered for the stored secret", http.StatusUnprocessableEntity)
	ErrInvalidConnectionInfo = appErrors.New("provider.invalid_connection_info", "Connection info is invalid", http.StatusBadRequest)
	ErrInvalidSkappInfo      = appErrors.New("provider.invalid_skapp_info", "Requesting application info is invalid", http.StatusBadRequest)

	// ErrInvalidSecret is returned when the login popup answers with something that is
	// not a usable secret.
	ErrInvalidSecret = appErrors.New("provider.invalid_secret", "Login popup returned an invalid secret", http.StatusUnprocessableEntity)

	// ErrMalformedResponse is the popup channel's malformed payload error.
	ErrMalformedResponse = popup.ErrMalformedResponse
)

// errPermissionUndecided is the cancellation reported when the permission popup closes
// without a decision.
var errPermissionUndecided = ErrUserCancelled.WithMessage("Permission neither granted nor denied")
