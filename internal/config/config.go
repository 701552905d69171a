// Package config loads the composer's server-side environment
// configuration: the dispatch target, shared secrets, and state directory.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultStateDir          = ".memory/"
	defaultMaxComposeSeconds = 120
)

// ServerConfig is the environment-derived configuration for the control
// plane API.
type ServerConfig struct {
	// APIKey authenticates bearer-token requests to the control plane. An
	// empty key runs the server in dev mode with auth disabled.
	APIKey string
	// TemplateRepo, if set, is the URL the dispatcher posts composition
	// outcomes to. Empty disables dispatch.
	TemplateRepo string
	// DispatchToken signs the X-Compose-Signature header on dispatch
	// requests.
	DispatchToken string
	// StateDir is where memstore and the job ledger persist their files.
	StateDir string
	// MaxComposeSeconds bounds how long a single composition job may run
	// before the engine cancels it.
	MaxComposeSeconds int
}

// Load reads ServerConfig from the process environment with no prefix,
// matching the upstream convention of binding directly to well-known
// variable names rather than namespacing them.
func Load() ServerConfig {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state_dir", defaultStateDir)
	v.SetDefault("max_compose_seconds", defaultMaxComposeSeconds)

	return ServerConfig{
		APIKey:            v.GetString("api_key"),
		TemplateRepo:      v.GetString("template_repo"),
		DispatchToken:     v.GetString("dispatch_token"),
		StateDir:          v.GetString("state_dir"),
		MaxComposeSeconds: v.GetInt("max_compose_seconds"),
	}
}

// ComposeTimeout returns MaxComposeSeconds as a time.Duration.
func (c ServerConfig) ComposeTimeout() time.Duration {
	return time.Duration(c.MaxComposeSeconds) * time.Second
}

// DevMode reports whether bearer-token authentication is disabled because
// no API key was configured.
func (c ServerConfig) DevMode() bool {
	return strings.TrimSpace(c.APIKey) == ""
}
