//go:build !integration

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseUserID(t *testing.T) {
	if id, err := parseUserID("123456789"); err != nil || id != 123456789 {
		t.Errorf("got %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "abc", "12x"} {
		if _, err := parseUserID(bad); err == nil {
			t.Errorf("expected an error for %q", bad)
		}
	}
}

func TestRootCommand(t *testing.T) {
	t.Run("should register every subcommand", func(t *testing.T) {
		cmd := newRootCmd()
		for _, name := range []string{"fetch", "check", "status", "grant", "migrate", "token"} {
			if c, _, err := cmd.Find([]string{name}); err != nil || c.Name() != name {
				t.Errorf("missing subcommand %q", name)
			}
		}
	})

	t.Run("should reject a non-shopee link before touching the network", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"fetch", "--out", t.TempDir(), "https://example.com/video"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		err := cmd.Execute()
		if err == nil || !strings.Contains(err.Error(), "not a Shopee link") {
			t.Errorf("expected a link error, got %v", err)
		}
	})

	t.Run("should refuse grant with non-positive days", func(t *testing.T) {
		cmd := newRootCmd()
		cmd.SetArgs([]string{"grant", "42", "--days", "0"})
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "--days") {
			t.Errorf("expected a days error, got %v", err)
		}
	})
}

func TestTokenCommand(t *testing.T) {
	// --- Arrange ---
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  admin_jwt_secret: cli-secret\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ADMIN_JWT_SECRET", "")

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	// --- Act ---
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "token", "--subject", "ops"})
	execErr := cmd.Execute()
	w.Close()
	var out bytes.Buffer
	_, _ = out.ReadFrom(r)

	// --- Assert ---
	if execErr != nil {
		t.Fatalf("token failed: %v", execErr)
	}
	tok := strings.TrimSpace(out.String())
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return []byte("cli-secret"), nil })
	if err != nil || !parsed.Valid {
		t.Fatalf("expected a valid token, got %v", err)
	}
	if claims["sub"] != "ops" || claims["role"] != "admin" {
		t.Errorf("unexpected claims %v", claims)
	}
}
