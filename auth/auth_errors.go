package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-client/backend"
	ierrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/token"
)

// Kind classifies every failure the manager returns.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindInvalidCredentials
	KindExpiredOrInvalidToken
	KindRateLimited
	KindServer
	KindNetwork
	KindDecode
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindExpiredOrInvalidToken:
		return "expired_or_invalid_token"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindStorage:
		return "storage"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels match an *Error of the same kind with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrExpiredOrInvalidToken = errors.New("expired or invalid token")
	ErrRateLimited           = errors.New("rate limited")
	ErrServer                = errors.New("server error")
	ErrNetwork               = errors.New("network error")
	ErrDecode                = errors.New("token decode failed")
	ErrStorage               = errors.New("session storage failed")
)

var sentinels = map[Kind]error{
	KindValidation:            ErrValidation,
	KindInvalidCredentials:    ErrInvalidCredentials,
	KindExpiredOrInvalidToken: ErrExpiredOrInvalidToken,
	KindRateLimited:           ErrRateLimited,
	KindServer:                ErrServer,
	KindNetwork:               ErrNetwork,
	KindDecode:                ErrDecode,
	KindStorage:               ErrStorage,
}

// Error is the typed failure returned by every Manager operation.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field validation messages.
	Fields     map[string][]string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Kind.String() + ": " + e.Message
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func validationError(field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: message,
		Fields:  map[string][]string{field: {message}},
	}
}

func storageError(err error) *Error {
	return newError(KindStorage, "", err)
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return 0
}

var defaultMessages = map[Kind]string{
	KindValidation:            "Please correct the highlighted fields and try again.",
	KindInvalidCredentials:    "Invalid email or password.",
	KindExpiredOrInvalidToken: "This link or session has expired. Please start again.",
	KindRateLimited:           "Too many attempts. Please wait a moment and try again.",
	KindServer:                "The server ran into a problem. Please try again.",
	KindNetwork:               "Unable to reach the server. Check your connection and try again.",
	KindDecode:                "Your session could not be read. Please sign in again.",
	KindStorage:               "Your session could not be saved on this device. Please sign in again.",
}

// UserMessage picks the single message to show for err. Backend wording is
// kept for credential, validation and token errors; transient failures always
// use a generic message inviting a retry.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *Error
	if !errors.As(err, &authErr) {
		return "An unexpected error occurred."
	}
	switch authErr.Kind {
	case KindValidation, KindInvalidCredentials, KindExpiredOrInvalidToken:
		if authErr.Message != "" {
			return authErr.Message
		}
	}
	return defaultMessages[authErr.Kind]
}

// Retryable reports whether retrying the same request may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer, KindRateLimited:
		return true
	default:
		return false
	}
}

type operation int

const (
	opLogin operation = iota
	opSecondFactor
	opRegister
	opLogout
	opRefresh
	opCheckAuth
	opVerifyEmail
	opPasswordReset
	opPasswordResetConfirm
)

// classify converts a backend or local failure into an *Error for op.
func classify(op operation, err error) *Error {
	if err == nil {
		return nil
	}
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr
	}

	var statusErr *backend.StatusError
	var transportErr *backend.TransportError
	switch {
	case errors.As(err, &statusErr):
		return classifyStatus(op, statusErr)
	case errors.As(err, &transportErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return newError(KindNetwork, "", err)
	case errors.Is(err, token.ErrDecode):
		return newError(KindDecode, "", err)
	case errors.Is(err, ierrors.ErrCorrupt),
		errors.Is(err, ierrors.ErrStoreIO),
		errors.Is(err, ierrors.ErrEncryption):
		return storageError(err)
	default:
		return newError(KindServer, "", err)
	}
}

func classifyStatus(op operation, statusErr *backend.StatusError) *Error {
	message := statusErr.Detail
	if message == "" && len(statusErr.Fields) > 0 {
		message = statusErr.FieldSummary()
	}
	out := &Error{
		Message:    message,
		Fields:     statusErr.Fields,
		StatusCode: statusErr.StatusCode,
		Err:        statusErr,
	}

	tokenFlow := op == opRefresh || op == opCheckAuth
	linkFlow := op == opPasswordResetConfirm || op == opVerifyEmail

	switch code := statusErr.StatusCode; {
	case code == http.StatusTooManyRequests:
		out.Kind = KindRateLimited
	case code >= http.StatusInternalServerError:
		out.Kind = KindServer
	case code == http.StatusBadRequest:
		switch {
		case tokenFlow:
			out.Kind = KindExpiredOrInvalidToken
		case linkFlow && namesToken(statusErr):
			out.Kind = KindExpiredOrInvalidToken
		case op == opSecondFactor && len(statusErr.Fields) == 0:
			out.Kind = KindInvalidCredentials
		default:
			out.Kind = KindValidation
		}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		if tokenFlow || linkFlow {
			out.Kind = KindExpiredOrInvalidToken
		} else {
			out.Kind = KindInvalidCredentials
		}
	case code == http.StatusNotFound:
		if tokenFlow || linkFlow {
			out.Kind = KindExpiredOrInvalidToken
		} else {
			out.Kind = KindValidation
		}
	default:
		out.Kind = KindServer
	}

	if out.Kind == KindServer || out.Kind == KindRateLimited {
		out.Fields = nil
	}
	return out
}

// namesToken reports whether a 400 on a link flow is about the link itself.
func namesToken(statusErr *backend.StatusError) bool {
	for _, field := range []string{"token", "key", "uid", "user_id"} {
		if _, ok := statusErr.Fields[field]; ok {
			return true
		}
	}
	message := strings.ToLower(statusErr.Detail)
	return strings.Contains(message, "token") ||
		strings.Contains(message, "expired") ||
		strings.Contains(message, "invalid link") ||
		strings.Contains(message, "invalid key")
}
