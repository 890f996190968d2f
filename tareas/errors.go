package tareas

import (
	"fmt"
)

// error taxonomy:
// - ValidationError: rejected before any network call
// - AuthorizationError: no authenticated user at mutation time
// - RemoteError: the store rejected a read or write
// No error here is fatal. A failed mutation leaves the canonical collection
// unchanged until the next snapshot.

type ValidationError struct {
	Field   string
	Message string
}

func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

func (self *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", self.Field, self.Message)
}

type AuthorizationError struct {
	Message string
}

func NewAuthorizationError(message string) *AuthorizationError {
	return &AuthorizationError{
		Message: message,
	}
}

func (self *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: %s", self.Message)
}

type RemoteError struct {
	Op   string
	Path string
	Err  error
}

func NewRemoteError(op string, path string, err error) *RemoteError {
	return &RemoteError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

func (self *RemoteError) Error() string {
	return fmt.Sprintf("remote: %s %s: %s", self.Op, self.Path, self.Err)
}

func (self *RemoteError) Unwrap() error {
	return self.Err
}
