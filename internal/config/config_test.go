package config

import (
	"strings"
	"testing"
)

func TestValidateRequiresSecretOutsideDevMode(t *testing.T) {
	cfg := Default()
	cfg.Auth.DevMode = false
	cfg.Auth.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected refusal without jwt secret outside dev mode")
	}
	cfg.Auth.JWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestDevModeAllowsEmptySecret(t *testing.T) {
	cfg := Default()
	if !cfg.Auth.DevMode {
		t.Fatal("default config should be dev mode")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev mode must tolerate empty secret: %v", err)
	}
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
server:
  addr: ":9999"
auth:
  dev_mode: false
  jwt_secret: abc
sync:
  active_statuses: [pending, in_progress]
`)
	cfg, err := FromYAML(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if got := cfg.ActiveStatuses(); len(got) != 2 || got[0] != "pending" {
		t.Fatalf("active statuses = %v", got)
	}
}

func TestFromYAMLRejectsProdWithoutSecret(t *testing.T) {
	_, err := FromYAML([]byte("auth:\n  dev_mode: false\n"))
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestGenerateDefaultParses(t *testing.T) {
	if _, err := FromYAML([]byte(GenerateDefault())); err != nil {
		t.Fatalf("generated template invalid: %v", err)
	}
}
