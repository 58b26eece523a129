package session

import "github.com/hireme/chatsync/internal/config"

const DefaultProfileName = "main"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}

// LoadProfile reads the profile.toml of name and applies the .env and
// environment overlay.
func LoadProfile(name string) (*config.Profile, error) {
	p, err := config.LoadProfile(ProfilePath(name))
	if err != nil {
		return nil, err
	}
	config.ApplyEnv(p, EnvPath(name), ".env")
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
