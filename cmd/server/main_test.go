package main

import (
	"log/slog"
	"testing"
	"time"

	"kasirinaja/posledger/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":   {AuthSecret: "short", AccessTokenTTL: time.Hour, AllowedOrigin: "http://pos.local"},
		"long token ttl": {AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: 72 * time.Hour, AllowedOrigin: "http://pos.local"},
		"wildcard cors":  {AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: time.Hour, AllowedOrigin: "*"},
	}
	for name, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("%s: expected config to be rejected", name)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:     "0123456789abcdef0123456789abcdef",
		AccessTokenTTL: 8 * time.Hour,
		AllowedOrigin:  "http://127.0.0.1:3000",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	if _, ok := newLogger("json").Handler().(*slog.JSONHandler); !ok {
		t.Fatalf("expected json handler")
	}
	if _, ok := newLogger("text").Handler().(*slog.TextHandler); !ok {
		t.Fatalf("expected text handler")
	}
}
