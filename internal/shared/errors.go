package shared

import "errors"

var (
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName indicates a unique name is already taken.
	ErrDuplicateName = errors.New("duplicate name")
	// ErrDuplicateIdentity indicates an email or username is already taken.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrSystemProtected indicates a mutation attempt on a system record.
	ErrSystemProtected = errors.New("system protected")
	// ErrInvalidCredentials indicates login failure. The same value covers
	// unknown identifiers, inactive accounts and wrong passwords so callers
	// cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken indicates a malformed, expired or revoked token.
	ErrInvalidToken = errors.New("invalid token")
)
