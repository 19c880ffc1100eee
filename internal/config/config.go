// Package config holds the static cluster description.
//
// A Config is built once at startup and passed to every constructor that
// needs it. Node identity is the index of the node in Nodes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

var ErrInvalid = errors.New("invalid config")

const (
	DefaultCallTimeout  = 500 * time.Millisecond
	DefaultPhaseTimeout = 2 * time.Second
	DefaultBackoffMin   = 20 * time.Millisecond
	DefaultBackoffMax   = 200 * time.Millisecond
	DefaultMaxAttempts  = 5
	DefaultMaxConns     = 64
	DefaultIdleTimeout  = time.Minute
	DefaultDataDir      = "data"
)

type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Duration is a time.Duration that reads and writes as "500ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	Nodes []Address `json:"nodes"`

	// CallTimeout bounds a single peer request.
	CallTimeout Duration `json:"call_timeout"`
	// PhaseTimeout bounds the wait for all replies of one phase.
	PhaseTimeout Duration `json:"phase_timeout"`
	BackoffMin   Duration `json:"backoff_min"`
	BackoffMax   Duration `json:"backoff_max"`
	MaxAttempts  int      `json:"max_attempts"`

	// MaxConns caps concurrently served inbound connections.
	MaxConns int `json:"max_conns"`
	// IdleTimeout closes inbound connections that send nothing for this
	// long, so idle clients cannot hold every slot.
	IdleTimeout Duration `json:"idle_timeout"`
	DataDir     string   `json:"data_dir"`
}

// Default is the three node localhost cluster on ports 8001-8003.
func Default() Config {
	c := Config{
		Nodes: []Address{
			{Host: "127.0.0.1", Port: 8001},
			{Host: "127.0.0.1", Port: 8002},
			{Host: "127.0.0.1", Port: 8003},
		},
	}
	c.fillDefaults()
	return c
}

// Load reads a JSON config file. A missing file yields Default().
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) fillDefaults() {
	if c.CallTimeout == 0 {
		c.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.PhaseTimeout == 0 {
		c.PhaseTimeout = Duration(DefaultPhaseTimeout)
	}
	if c.BackoffMin == 0 {
		c.BackoffMin = Duration(DefaultBackoffMin)
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = Duration(DefaultBackoffMax)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
}

func (c Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalid)
	}
	seen := make(map[string]int, len(c.Nodes))
	for i, a := range c.Nodes {
		if a.Host == "" || a.Port <= 0 || a.Port > 65535 {
			return fmt.Errorf("%w: node %d has address %q", ErrInvalid, i, a.String())
		}
		if j, ok := seen[a.String()]; ok {
			return fmt.Errorf("%w: nodes %d and %d share address %s", ErrInvalid, j, i, a)
		}
		seen[a.String()] = i
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max_attempts must be positive", ErrInvalid)
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("%w: max_conns must be positive", ErrInvalid)
	}
	if c.CallTimeout < 0 || c.PhaseTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	if c.BackoffMin < 0 || c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("%w: backoff range [%s, %s]", ErrInvalid,
			time.Duration(c.BackoffMin), time.Duration(c.BackoffMax))
	}
	return nil
}

func (c Config) Size() int {
	return len(c.Nodes)
}

func (c Config) Valid(id int) bool {
	return id >= 0 && id < len(c.Nodes)
}

// Addr returns the dial address of node id.
func (c Config) Addr(id int) string {
	return c.Nodes[id].String()
}

// Peers returns every node id except self.
func (c Config) Peers(self int) []int {
	peers := make([]int, 0, len(c.Nodes)-1)
	for i := range c.Nodes {
		if i != self {
			peers = append(peers, i)
		}
	}
	return peers
}
