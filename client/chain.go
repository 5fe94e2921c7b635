package client

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const HeaderRequestID = "X-Request-ID"

// Middleware decorates a round tripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// RoundTripperFunc adapts a func to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Chain wraps base so that mw[0] sees the request first.
func Chain(base http.RoundTripper, mw ...Middleware) http.RoundTripper {
	chained := base
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

// RequestID tags requests that carry no X-Request-ID with a random one.
func RequestID() Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Header.Get(HeaderRequestID) != "" {
				return next.RoundTrip(req)
			}
			out := req.Clone(req.Context())
			out.Header.Set(HeaderRequestID, uuid.NewString())
			return next.RoundTrip(out)
		})
	}
}

// Logging logs each request with its outcome. Outside DEV it is a no-op.
func Logging(logger zerolog.Logger, env string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		if env != "DEV" {
			return next
		}
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			start := time.Now()
			resp, err := next.RoundTrip(req)

			var event *zerolog.Event
			if err != nil {
				event = logger.Warn().Err(err)
			} else {
				event = logger.Debug().Int("status", resp.StatusCode)
			}
			event.
				Str("requestID", req.Header.Get(HeaderRequestID)).
				Dur("elapsed", time.Since(start)).
				Msgf("[%s] %s", colourMethod(req.Method), req.URL.Path)
			return resp, err
		})
	}
}
