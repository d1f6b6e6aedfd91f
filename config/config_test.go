package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("COMMAND_PREFIX", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("HTTP_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v, want 1m", cfg.PollInterval)
	}
	if cfg.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want %q", cfg.CommandPrefix, "!")
	}
	if cfg.DBDsn == "" {
		t.Errorf("expected default DB DSN, got empty")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
}

func TestLoadPollInterval(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "30s")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}

	t.Setenv("POLL_INTERVAL", "-1m")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for negative POLL_INTERVAL")
	}

	t.Setenv("POLL_INTERVAL", "bogus")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for unparseable POLL_INTERVAL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		id      string
		secret  string
		wantErr bool
	}{
		{"all set", "tok", "cid", "sec", false},
		{"missing discord token", "", "cid", "sec", true},
		{"missing client id", "tok", "", "sec", true},
		{"missing client secret", "tok", "cid", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{DiscordBotToken: tt.token, TwitchClientID: tt.id, TwitchClientSecret: tt.secret}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRateKnobs(t *testing.T) {
	t.Setenv("HELIX_RATE_LIMIT", "2.5")
	t.Setenv("HELIX_RATE_BURST", "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HelixRateLimit != 2.5 {
		t.Errorf("HelixRateLimit = %v, want 2.5", cfg.HelixRateLimit)
	}
	if cfg.HelixRateBurst != 3 {
		t.Errorf("HelixRateBurst = %v, want 3", cfg.HelixRateBurst)
	}

	t.Setenv("HELIX_RATE_BURST", "0")
	if _, err := Load(); err == nil {
		t.Errorf("expected error for zero HELIX_RATE_BURST")
	}
}
