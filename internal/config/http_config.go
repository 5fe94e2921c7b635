package config

import "time"

type HTTP struct{}

var _ HTTPConfig = HTTP{}

func (HTTP) GetRequestTimeout() time.Duration {
	return GetEnvDuration("REQUEST_TIMEOUT", 15*time.Second)
}

// GetVerifyTimeout bounds the background check-auth call made at startup
func (HTTP) GetVerifyTimeout() time.Duration {
	return GetEnvDuration("VERIFY_TIMEOUT", 10*time.Second)
}

// GetRefreshTimeout bounds a shared token refresh; it is independent of the
// callers waiting on it
func (HTTP) GetRefreshTimeout() time.Duration {
	return GetEnvDuration("REFRESH_TIMEOUT", 10*time.Second)
}

func (HTTP) GetLogoutTimeout() time.Duration {
	return GetEnvDuration("LOGOUT_TIMEOUT", 5*time.Second)
}
