package session

import "github.com/matheus3301/pairchat/internal/config"

const DefaultSessionName = "main"

// Resolve picks the session name: the --session flag, then the effective
// configuration (PAIRCHAT_DEFAULT_SESSION, .env files, config.toml), then
// "main". A config that fails to load is ignored here; the daemon reports it.
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Resolve(ConfigPath(), EnvFiles()...)
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
