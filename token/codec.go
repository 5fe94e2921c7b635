// Package token decodes bearer access tokens into the claims the session layer
// needs, without contacting the backend.
package token

import (
	"errors"
	"fmt"
	"time"
)

// ErrDecode matches every decode failure with errors.Is.
var ErrDecode = errors.New("token decode failed")

// Claims are the parts of an access token the client relies on.
type Claims struct {
	Expiry       time.Time
	SubjectID    string
	SubjectEmail string
	Username     string
}

// DecodeError reports why a token could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token decode: %s: %v", e.Reason, e.Err)
	}
	return "token decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Codec turns a raw token into Claims. Implementations must be pure: the same
// input always yields the same result and nothing is written anywhere.
type Codec interface {
	Decode(raw string) (*Claims, error)
	// IsExpired is true when the token is expired at now or cannot be decoded.
	IsExpired(raw string, now time.Time) bool
}

// expired applies the shared fail-closed expiry rule.
func expired(c Codec, raw string, now time.Time, leeway time.Duration) bool {
	claims, err := c.Decode(raw)
	if err != nil {
		return true
	}
	return claims.Expiry.Before(now.Add(leeway))
}
