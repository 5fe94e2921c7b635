package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config interface {
	EnvConfig
	SessionConfig
	HTTPConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetEnv() string
	GetAPIBaseURL() string
	GetDataFolder() string
}

type SessionConfig interface {
	GetLoginPath() string
	GetLandingPath() string
	GetProtectedPrefixes() []string
	GetAuthOnlyPaths() []string
	GetTokenLeeway() time.Duration
	GetTokenVerifyKeys() string
	GetTokenVerifyAlgs() []string
}

type HTTPConfig interface {
	GetRequestTimeout() time.Duration
	GetVerifyTimeout() time.Duration
	GetRefreshTimeout() time.Duration
	GetLogoutTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Session
	HTTP
	Store
}

// New reads configuration from the environment. A .env file in the working
// directory is loaded first when present, and ROUTES_FILE may point to a YAML
// document overriding the guarded routes.
func New() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using process environment")
	}

	session := Session{}
	if routesFile := GetEnv(routesFileVar, ""); routesFile != "" {
		routes, err := LoadRoutes(routesFile)
		if err != nil {
			log.Warn().Err(err).Str("file", routesFile).Msg("ignoring routes file")
		} else {
			session.routes = routes
		}
	}

	return mainConfig{Session: session}
}
