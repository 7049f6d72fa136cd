package auth

import "fmt"

// Kind classifies why an authorization attempt stopped.
type Kind string

const (
	KindCredentialFile       Kind = "CREDENTIAL_FILE_ERROR"
	KindMalformedCredentials Kind = "WRONG_CREDENTIALS_FORMAT"
	KindTokenFile            Kind = "TOKEN_FILE_ERROR"
	KindTokenExchange        Kind = "TOKEN_EXCHANGE_FAILED"
	KindDenied               Kind = "AUTHORIZATION_DENIED"
)

// Error is returned by the Manager when an authorization attempt fails.
// Attempts are never retried; the host has to drive a new one.
type Error struct {
	Kind Kind
	// Code is the error parameter of the provider redirect for KindDenied.
	Code string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Code != "" && e.Err != nil:
		return fmt.Sprintf("auth: %s (%s): %v", e.Kind, e.Code, e.Err)
	case e.Code != "":
		return fmt.Sprintf("auth: %s (%s)", e.Kind, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("auth: %s: %v", e.Kind, e.Err)
	default:
		return "auth: " + string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType is the value sent to the host in the error_type field. Denials
// carry the provider's own code, e.g. "access_denied".
func (e *Error) ErrorType() string {
	if e.Kind == KindDenied && e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}
