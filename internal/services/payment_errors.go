package services

import "fmt"

// ConfigError indicates missing or incomplete provider credentials.
type ConfigError struct {
	Missing string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Missing)
}

// ValidationError indicates user-correctable bad input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthError indicates the provider rejected our credentials.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("monnify authentication failed: %s", e.Message)
	}
	return fmt.Sprintf("monnify authentication failed: status %d", e.Status)
}

// ProviderError indicates the provider rejected a request after
// authentication succeeded. Status carries the provider's HTTP status so the
// boundary can forward it.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("monnify request failed: status %d: %s", e.Status, e.Message)
}

// MalformedResponseError indicates the provider returned a body that could
// not be decoded into the expected envelope. The raw body is kept for
// diagnosis and logged, never returned to clients.
type MalformedResponseError struct {
	Body []byte
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("monnify returned an unexpected response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// PersistenceError indicates a storage failure distinct from the expected
// duplicate-reference no-op during materialization.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
