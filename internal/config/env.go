package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ApplyEnv loads the given .env files (missing files are ignored) and
// overrides profile settings from CHATSYNC_* variables.
func ApplyEnv(p *Profile, envFiles ...string) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	setString(&p.API.BaseURL, "CHATSYNC_API_URL")
	setString(&p.Realtime.URL, "CHATSYNC_SOCKET_URL")
	setString(&p.Push.Backend, "CHATSYNC_PUSH_BACKEND")
	setString(&p.Push.RedisAddr, "CHATSYNC_REDIS_ADDR")
	setString(&p.Push.RedisPassword, "CHATSYNC_REDIS_PASSWORD")
	setString(&p.Identity.UserID, "CHATSYNC_USER_ID")
	setString(&p.Identity.Token, "CHATSYNC_TOKEN")
	setString(&p.Identity.Secret, "CHATSYNC_TOKEN_SECRET")

	if v, ok := os.LookupEnv("CHATSYNC_REALTIME_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.Realtime.Enabled = b
		}
	}
	if v, ok := os.LookupEnv("CHATSYNC_REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			p.Push.RedisDB = n
		}
	}
	if v, ok := os.LookupEnv("CHATSYNC_API_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			p.API.Timeout = Duration{d}
		}
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}
