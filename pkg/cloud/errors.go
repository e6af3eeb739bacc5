package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is matched by API errors with status 404.
	ErrNotFound = errors.New("doover: resource not found")
	// ErrForbidden is matched by API errors with status 403.
	ErrForbidden = errors.New("doover: access denied")
	// ErrNoCredentials is returned when a login is needed but no username
	// and password were configured.
	ErrNoCredentials = errors.New("doover: username and password required")
	// ErrTwoFactorRequired is returned by Login when the account has 2FA
	// enabled and no code prompt was configured.
	ErrTwoFactorRequired = errors.New("doover: two-factor authentication required")
)

// APIError is returned when the API responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("doover api %d: %s", e.Status, e.Message)
}

// Is lets callers match on ErrNotFound and ErrForbidden.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	}
	return false
}
