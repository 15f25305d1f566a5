// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTokenExpired indicates a well-formed token whose lifetime has elapsed.
	ErrTokenExpired = errors.New("token expired")

	// ErrForbidden indicates an authenticated caller lacking the required role (e.g. room owner).
	ErrForbidden = errors.New("forbidden")

	// ErrNotMember indicates the caller is not a member of the room.
	ErrNotMember = errors.New("not a member")

	// ErrInvalidInput indicates a malformed or incomplete request.
	ErrInvalidInput = errors.New("invalid input")
)
