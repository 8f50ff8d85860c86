package auth

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
)

// DecodeReason classifies why a token failed to parse. It is recorded in
// logs and metrics only.
type DecodeReason string

const (
	ReasonMalformed DecodeReason = "malformed"
	ReasonSignature DecodeReason = "signature"
	ReasonExpired   DecodeReason = "expired"
	ReasonClaims    DecodeReason = "claims"
)

// DecodeError is returned by TokenCodec.Parse for every rejected token.
type DecodeError struct {
	Reason DecodeReason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("token %s", e.Reason)
	}
	return fmt.Sprintf("token %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
