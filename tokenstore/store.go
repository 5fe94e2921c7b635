// Package tokenstore persists the credential pair and the cached user summary
// between runs, and holds the transient pending redirect target.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Storage keys. The pair and the user summary are durable; the pending redirect
// lives only as long as the running client.
const (
	PairKey            = "auth_tokens"
	UserKey            = "user_data"
	PendingRedirectKey = "redirectAfterLogin"
)

var ErrIncompletePair = errors.New("credential pair requires both access and refresh tokens")

// Pair is the access/refresh credential pair issued by the backend.
type Pair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Validate rejects a pair with either half missing.
func (p Pair) Validate() error {
	if strings.TrimSpace(p.Access) == "" || strings.TrimSpace(p.Refresh) == "" {
		return ErrIncompletePair
	}
	return nil
}

// UserSummary is the cached identity shown before the backend confirms it.
type UserSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
}

// UnmarshalJSON accepts the id as either a JSON string or a number; the
// backend sends integer primary keys.
func (u *UserSummary) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       json.RawMessage `json:"id"`
		Email    string          `json:"email"`
		Username string          `json:"username"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := FlexibleID(raw.ID)
	if err != nil {
		return err
	}
	u.ID = id
	u.Email = raw.Email
	u.Username = raw.Username
	return nil
}

// FlexibleID renders a raw JSON string or number as a string id.
func FlexibleID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), nil
	}
	return n.String(), nil
}

// Store is durable, synchronous, local persistence for one session.
//
// Save replaces any prior pair as a whole. Clear removes the pair and the user
// summary together. Load and LoadUserSummary return nil, nil when nothing is
// stored.
type Store interface {
	Save(pair Pair) error
	Load() (*Pair, error)
	Clear() error
	SaveUserSummary(user UserSummary) error
	LoadUserSummary() (*UserSummary, error)
}

// RedirectStore holds the destination an unauthenticated user was blocked from.
type RedirectStore interface {
	SetPendingRedirect(path string)
	// ConsumePendingRedirect returns the stored path and clears it.
	ConsumePendingRedirect() (string, bool)
}
