// Package config loads process configuration from an optional YAML file, a
// .env file and the environment. Environment values win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/socialzk/pkg/attest"
)

const (
	BackendLocal  = "local"
	BackendRemote = "remote"

	DefaultChainPoll = 4 * time.Second
)

var (
	ErrMissing = errors.New("missing required configuration")
	ErrInvalid = errors.New("invalid configuration")
)

// env lists the variable names read for each setting, preferred name first.
var env = struct {
	schemaID, appID, bearer                []string
	backend, attestURL, keystore, rpc, poll []string
	keys                                   []string
}{
	schemaID:  []string{"SCHEMA_ID", "VITE_SCHEMA_ID"},
	appID:     []string{"APP_ID", "VITE_APP_ID"},
	bearer:    []string{"TWITTER_BEARER_TOKEN", "VITE_TWITTER_BEARER_TOKEN"},
	backend:   []string{"ATTEST_BACKEND"},
	attestURL: []string{"ATTEST_URL"},
	keystore:  []string{"KEYSTORE_DIR"},
	rpc:       []string{"ETH_RPC_URL"},
	poll:      []string{"CHAIN_POLL_INTERVAL"},
	keys:      []string{"KEYS_DIR"},
}

type Config struct {
	Attest      attest.Config `yaml:"attest"`
	Backend     string        `yaml:"backend"`
	AttestURL   string        `yaml:"attest_url"`
	KeystoreDir string        `yaml:"keystore_dir"`
	RPCURL      string        `yaml:"rpc_url"`
	ChainPoll   time.Duration `yaml:"chain_poll_interval"`
	KeysDir     string        `yaml:"keys_dir"`
}

// LoadEnvFile merges a .env style file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Load reads ./.env, then the YAML file at path when path is not empty, then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config unmarshal: %w", err)
		}
	}
	if err := applyEnvOverrides(&c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyEnvOverrides(c *Config) error {
	set := func(dst *string, names []string) {
		if v, ok := lookup(names); ok {
			*dst = v
		}
	}
	set(&c.Attest.SchemaID, env.schemaID)
	set(&c.Attest.AppID, env.appID)
	set(&c.Attest.BearerToken, env.bearer)
	set(&c.Backend, env.backend)
	set(&c.AttestURL, env.attestURL)
	set(&c.KeystoreDir, env.keystore)
	set(&c.RPCURL, env.rpc)
	set(&c.KeysDir, env.keys)

	if v, ok := lookup(env.poll); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, env.poll[0], err)
		}
		c.ChainPoll = d
	}
	return nil
}

func lookup(names []string) (string, bool) {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v, true
		}
	}
	return "", false
}

func (c *Config) applyDefaults() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendLocal
	}
	if c.ChainPoll <= 0 {
		c.ChainPoll = DefaultChainPoll
	}
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Attest.SchemaID) == "" {
		missing = append(missing, env.schemaID[0])
	}
	if strings.TrimSpace(c.Attest.AppID) == "" {
		missing = append(missing, env.appID[0])
	}
	if strings.TrimSpace(c.Attest.BearerToken) == "" {
		missing = append(missing, env.bearer[0])
	}
	if c.Backend == BackendRemote && c.AttestURL == "" {
		missing = append(missing, env.attestURL[0])
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	switch c.Backend {
	case BackendLocal, BackendRemote:
	default:
		return fmt.Errorf("%w: unknown attestation backend %q", ErrInvalid, c.Backend)
	}
	return nil
}
