package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	c := Default()
	if c.Size() != 3 {
		t.Fatalf("expected 3 nodes, got %d", c.Size())
	}
	if got := c.Addr(1); got != "127.0.0.1:8002" {
		t.Errorf("Addr(1) = %q", got)
	}
	if c.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d", c.MaxAttempts)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Errorf("expected default config, got %+v", c)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.json")
	data := `{
		"nodes": [
			{"host": "10.0.0.1", "port": 9000},
			{"host": "10.0.0.2", "port": 9000},
			{"host": "10.0.0.3", "port": 9000},
			{"host": "10.0.0.4", "port": 9000},
			{"host": "10.0.0.5", "port": 9000}
		],
		"call_timeout": "250ms",
		"max_attempts": 7
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Size() != 5 {
		t.Errorf("Size() = %d", c.Size())
	}
	if time.Duration(c.CallTimeout) != 250*time.Millisecond {
		t.Errorf("CallTimeout = %v", time.Duration(c.CallTimeout))
	}
	if time.Duration(c.PhaseTimeout) != DefaultPhaseTimeout {
		t.Errorf("PhaseTimeout = %v", time.Duration(c.PhaseTimeout))
	}
	if time.Duration(c.IdleTimeout) != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v", time.Duration(c.IdleTimeout))
	}
	if c.MaxAttempts != 7 {
		t.Errorf("MaxAttempts = %d", c.MaxAttempts)
	}
	if got := c.Peers(2); !reflect.DeepEqual(got, []int{0, 1, 3, 4}) {
		t.Errorf("Peers(2) = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no nodes", func(c *Config) { c.Nodes = nil }},
		{"bad port", func(c *Config) { c.Nodes[0].Port = 0 }},
		{"empty host", func(c *Config) { c.Nodes[1].Host = "" }},
		{"duplicate", func(c *Config) { c.Nodes[2] = c.Nodes[0] }},
		{"attempts", func(c *Config) { c.MaxAttempts = -1 }},
		{"conns", func(c *Config) { c.MaxConns = -2 }},
		{"idle", func(c *Config) { c.IdleTimeout = -1 }},
		{"backoff", func(c *Config) { c.BackoffMax = c.BackoffMin - 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cluster.json")
	data := `{"nodes": [{"host": "a", "port": 1}], "call_timeout": "soon"}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for an unparseable duration")
	}
}
