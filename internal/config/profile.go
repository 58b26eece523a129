package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Duration is a time.Duration stored as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// Profile is the per-profile profile.toml.
type Profile struct {
	API       API       `toml:"api"`
	Realtime  Realtime  `toml:"realtime"`
	Push      Push      `toml:"push"`
	Identity  Identity  `toml:"identity"`
	Messaging Messaging `toml:"messaging"`
}

// API configures the relational resource API client.
type API struct {
	BaseURL string   `toml:"base_url"`
	Timeout Duration `toml:"timeout"`
}

// Realtime configures the push-messaging channel.
type Realtime struct {
	Enabled        bool     `toml:"enabled"`
	URL            string   `toml:"url"`
	ConnectTimeout Duration `toml:"connect_timeout"`
	WaitTimeout    Duration `toml:"wait_timeout"`
	MaxFailures    int      `toml:"max_failures"`
}

// Push configures the push database backend: "memory" or "redis".
type Push struct {
	Backend       string `toml:"backend"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Identity holds either a pre-issued token or the development issuer
// secret used to mint tokens for UserID.
type Identity struct {
	UserID      string   `toml:"user_id"`
	DisplayName string   `toml:"display_name"`
	Token       string   `toml:"token"`
	Secret      string   `toml:"secret"`
	TokenTTL    Duration `toml:"token_ttl"`
}

// Messaging holds the timing constants of the messaging core.
type Messaging struct {
	TypingIdle    Duration `toml:"typing_idle"`
	TypingStale   Duration `toml:"typing_stale"`
	ScrollDelay   Duration `toml:"scroll_delay"`
	BeaconTimeout Duration `toml:"beacon_timeout"`
}

// DefaultProfile returns the built-in defaults.
func DefaultProfile() *Profile {
	return &Profile{
		API: API{
			BaseURL: "http://localhost:8080",
			Timeout: Duration{15 * time.Second},
		},
		Realtime: Realtime{
			Enabled:        true,
			URL:            "ws://localhost:8080/ws",
			ConnectTimeout: Duration{10 * time.Second},
			WaitTimeout:    Duration{5 * time.Second},
			MaxFailures:    3,
		},
		Push: Push{
			Backend:   "redis",
			RedisAddr: "localhost:6379",
			KeyPrefix: "chatsync:",
		},
		Identity: Identity{
			TokenTTL: Duration{time.Hour},
		},
		Messaging: Messaging{
			TypingIdle:    Duration{time.Second},
			TypingStale:   Duration{3 * time.Second},
			ScrollDelay:   Duration{100 * time.Millisecond},
			BeaconTimeout: Duration{5 * time.Second},
		},
	}
}

// LoadProfile decodes path over the defaults. A missing file yields the defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if err := decodeStrict(path, p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("decode profile %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveProfile writes p to path with 0600 permissions.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

// Validate rejects settings the messaging core cannot run with.
func (p *Profile) Validate() error {
	switch p.Push.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("push.backend %q: must be memory or redis", p.Push.Backend)
	}
	if p.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if p.Realtime.MaxFailures < 1 {
		return fmt.Errorf("realtime.max_failures = %d: must be at least 1", p.Realtime.MaxFailures)
	}
	return nil
}
