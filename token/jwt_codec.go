package token

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	claimUserID   = "user_id"
	claimEmail    = "email"
	claimUsername = "username"
)

// JWTCodec reads the payload of a JWT without checking its signature. The
// backend verifies signatures on every call; the client only needs the expiry
// and the subject to decide when to refresh and what to display.
type JWTCodec struct {
	parser *jwt.Parser
	leeway time.Duration
}

var _ Codec = (*JWTCodec)(nil)

type JWTCodecOption func(*JWTCodec)

// WithLeeway reports tokens as expired this long before their exp claim so
// they are refreshed ahead of the deadline.
func WithLeeway(leeway time.Duration) JWTCodecOption {
	return func(c *JWTCodec) {
		if leeway > 0 {
			c.leeway = leeway
		}
	}
}

func NewJWTCodec(options ...JWTCodecOption) *JWTCodec {
	c := &JWTCodec{
		parser: jwt.NewParser(jwt.WithJSONNumber()),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *JWTCodec) Decode(raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &DecodeError{Reason: "empty token"}
	}

	parsed, _, err := c.parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, &DecodeError{Reason: "malformed token", Err: err}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, &DecodeError{Reason: "error extracting claims"}
	}
	return claimsFromMap(claims)
}

func (c *JWTCodec) IsExpired(raw string, now time.Time) bool {
	return expired(c, raw, now, c.leeway)
}

func claimsFromMap(claims jwt.MapClaims) (*Claims, error) {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, &DecodeError{Reason: "invalid exp claim", Err: err}
	}
	if exp == nil {
		return nil, &DecodeError{Reason: "missing exp claim"}
	}

	subjectID, err := stringClaim(claims[claimUserID])
	if err != nil {
		return nil, &DecodeError{Reason: "invalid user_id claim", Err: err}
	}
	if subjectID == "" {
		subjectID, _ = claims.GetSubject()
	}
	if subjectID == "" {
		return nil, &DecodeError{Reason: "missing subject"}
	}

	email, _ := claims[claimEmail].(string)
	username, _ := claims[claimUsername].(string)

	return &Claims{
		Expiry:       exp.Time,
		SubjectID:    subjectID,
		SubjectEmail: email,
		Username:     username,
	}, nil
}

// stringClaim accepts identifiers encoded as JSON strings or numbers.
func stringClaim(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		return id, nil
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return id.String(), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}
