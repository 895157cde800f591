// Package config centralizes runtime configuration for talkd. It loads a
// JSON configuration file, fills unset fields with defaults and then applies
// TALK_* environment overrides (an optional .env file is read first). With no
// file at all the defaults are enough to run a single local node.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Config holds configurable options for talkd.
type Config struct {
	KeyFile        string `json:"key_file"`
	Backend        string `json:"backend"`
	DataDir        string `json:"data_dir"`
	MaxBackups     int    `json:"max_backups"`
	ABCISocket     string `json:"abci_socket"`
	TendermintHome string `json:"tendermint_home"`
	TendermintRPC  string `json:"tendermint_rpc"`
	HTTPPort       int    `json:"http_port"`
	LogLevel       string `json:"log_level"`
	LogBuffer      int    `json:"log_buffer"`
	// Keyring binds identity names to hex ed25519 public keys.
	Keyring map[string]string `json:"keyring"`
}

// Defaults returns the configuration used for every field left unset.
func Defaults() *Config {
	return &Config{
		KeyFile:       "talk_key.pem",
		Backend:       BackendSQLite,
		DataDir:       "data",
		MaxBackups:    20,
		ABCISocket:    "unix://talk.sock",
		TendermintRPC: "http://localhost:26657",
		HTTPPort:      8080,
		LogLevel:      "info",
		LogBuffer:     200,
		Keyring:       map[string]string{},
	}
}

// LoadConfig reads a JSON file at path. A missing file is not an error; a
// file that does not parse is reported and ignored. Environment overrides are
// applied last in both cases.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		path = os.Getenv("TALK_CONFIG_FILE")
	}

	c := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fileCfg Config
			if err := json.Unmarshal(b, &fileCfg); err != nil {
				log.WithError(err).WithField("path", path).Warn("config file unreadable, using defaults")
			} else {
				c = merge(&fileCfg, c)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := applyEnv(c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// merge fills zero-valued fields of c from def.
func merge(c, def *Config) *Config {
	if c.KeyFile == "" {
		c.KeyFile = def.KeyFile
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = def.MaxBackups
	}
	if c.ABCISocket == "" {
		c.ABCISocket = def.ABCISocket
	}
	if c.TendermintHome == "" {
		c.TendermintHome = def.TendermintHome
	}
	if c.TendermintRPC == "" {
		c.TendermintRPC = def.TendermintRPC
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = def.HTTPPort
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogBuffer == 0 {
		c.LogBuffer = def.LogBuffer
	}
	if c.Keyring == nil {
		c.Keyring = def.Keyring
	}
	return c
}

func applyEnv(c *Config) error {
	str := map[string]*string{
		"TALK_KEY_FILE":        &c.KeyFile,
		"TALK_BACKEND":         &c.Backend,
		"TALK_DATA_DIR":        &c.DataDir,
		"TALK_ABCI_SOCKET":     &c.ABCISocket,
		"TALK_TENDERMINT_HOME": &c.TendermintHome,
		"TALK_TENDERMINT_RPC":  &c.TendermintRPC,
		"TALK_LOG_LEVEL":       &c.LogLevel,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TALK_HTTP_PORT":   &c.HTTPPort,
		"TALK_MAX_BACKUPS": &c.MaxBackups,
		"TALK_LOG_BUFFER":  &c.LogBuffer,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
	}

	// TALK_KEYRING=alice=<hex>,bob=<hex> adds to the file's keyring
	if v := os.Getenv("TALK_KEYRING"); v != "" {
		if c.Keyring == nil {
			c.Keyring = map[string]string{}
		}
		for _, pair := range strings.Split(v, ",") {
			name, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || name == "" {
				return fmt.Errorf("TALK_KEYRING: bad entry %q", pair)
			}
			c.Keyring[name] = key
		}
	}
	return nil
}

// Validate rejects values talkd cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendPebble:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("http_port %d out of range", c.HTTPPort)
	}
	return nil
}
