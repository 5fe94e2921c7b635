package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	routesFileVar       = "ROUTES_FILE"
	loginPathVar        = "LOGIN_PATH"
	landingPathVar      = "LANDING_PATH"
	protectedPrefixVar  = "PROTECTED_PREFIXES"
	authOnlyPathsVar    = "AUTH_ONLY_PATHS"
	tokenLeewayVar      = "TOKEN_LEEWAY"
	tokenVerifyKeysVar  = "TOKEN_VERIFY_KEYS"
	tokenVerifyAlgsVar  = "TOKEN_VERIFY_ALGS"
	defaultLoginPath    = "/auth/login"
	defaultLandingPath  = "/dashboard"
	defaultTokenLeeway  = 0
	defaultProtectedDir = "/dashboard"
)

var defaultAuthOnlyPaths = []string{"/", "/auth/login", "/auth/register", "/auth/forgot-password"}

// Routes is the YAML layout of ROUTES_FILE.
type Routes struct {
	LoginPath         string   `yaml:"login_path"`
	LandingPath       string   `yaml:"landing_path"`
	ProtectedPrefixes []string `yaml:"protected"`
	AuthOnlyPaths     []string `yaml:"auth_only"`
}

// LoadRoutes parses a routes file.
func LoadRoutes(path string) (*Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var routes Routes
	if err := yaml.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	return &routes, nil
}

// Session resolves guard and landing settings. Values from a routes file win
// over environment variables, which win over the defaults.
type Session struct {
	routes *Routes
}

var _ SessionConfig = Session{}

func NewSession(routes *Routes) Session {
	return Session{routes: routes}
}

func (s Session) GetLoginPath() string {
	if s.routes != nil && s.routes.LoginPath != "" {
		return s.routes.LoginPath
	}
	return GetEnv(loginPathVar, defaultLoginPath)
}

func (s Session) GetLandingPath() string {
	if s.routes != nil && s.routes.LandingPath != "" {
		return s.routes.LandingPath
	}
	return GetEnv(landingPathVar, defaultLandingPath)
}

func (s Session) GetProtectedPrefixes() []string {
	if s.routes != nil && len(s.routes.ProtectedPrefixes) > 0 {
		return s.routes.ProtectedPrefixes
	}
	return GetEnvList(protectedPrefixVar, []string{defaultProtectedDir})
}

func (s Session) GetAuthOnlyPaths() []string {
	if s.routes != nil && len(s.routes.AuthOnlyPaths) > 0 {
		return s.routes.AuthOnlyPaths
	}
	return GetEnvList(authOnlyPathsVar, defaultAuthOnlyPaths)
}

func (Session) GetTokenLeeway() time.Duration {
	return GetEnvDuration(tokenLeewayVar, defaultTokenLeeway)
}

// GetTokenVerifyKeys returns the path of a PEM file holding the backend's
// public signing keys. Empty means tokens are decoded without verification.
func (Session) GetTokenVerifyKeys() string {
	return GetEnv(tokenVerifyKeysVar, "")
}

func (Session) GetTokenVerifyAlgs() []string {
	return GetEnvList(tokenVerifyAlgsVar, []string{"RS256"})
}
