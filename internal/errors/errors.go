// Package errors holds the sentinel errors shared by every layer. Callers
// wrap them with fmt.Errorf("%w: ...") and classify failures with errors.Is.
// The API maps each one to an HTTP status in respondWithError.
package errors

import "errors"

var (
	// ErrNotFound: no session or message with the given id or index. 404.
	ErrNotFound = errors.New("not found")

	// ErrValidation: bad input, such as an empty title, a message index out
	// of range or a regenerate aimed at a user message. 400.
	ErrValidation = errors.New("invalid input")

	// ErrConflict: the session already has a reply streaming into it. 409.
	ErrConflict = errors.New("conflict")

	// ErrConfiguration: a required setting is missing, usually the API key.
	// Nothing is written to the message log. 412.
	ErrConfiguration = errors.New("missing configuration")

	// ErrUnsupported: the backend lacks the capability, e.g. images on
	// Ollama. 501.
	ErrUnsupported = errors.New("not supported by backend")

	// ErrInternal hides unexpected failures from clients. 500.
	ErrInternal = errors.New("internal error")
)
