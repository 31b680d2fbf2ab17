package auth

import "errors"

// ErrMissingCredentials is returned when neither the supplied nor the
// stored credentials are complete.
var ErrMissingCredentials = errors.New("no usable credentials supplied or stored")

// Credentials identify a user to the authentication endpoint.
type Credentials struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Token != ""
}

// Resolve picks the credentials for an attempt. Supplied credentials win
// when valid, stored ones are the fallback.
func Resolve(supplied, stored Credentials) (Credentials, error) {
	switch {
	case supplied.Valid():
		return supplied, nil
	case stored.Valid():
		return stored, nil
	default:
		return Credentials{}, ErrMissingCredentials
	}
}

// CredentialStore is where a successful attempt is committed.
type CredentialStore interface {
	// Credentials returns the persisted credentials.
	Credentials() Credentials
	// CommitAuthentication stores the credentials and caches the raw token
	// in one step.
	CommitAuthentication(creds Credentials, token string) error
}
