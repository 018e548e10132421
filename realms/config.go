package realms

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ruteri/seedless-backup/cryptoutils"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxSecretSize bounds the secret a realm registration can hold.
	DefaultMaxSecretSize = 128

	// DefaultContextInfo namespaces the key share registration.
	DefaultContextInfo = "jelli_key_share"

	// DefaultGuessLimit is the number of wrong PINs tolerated before lockout.
	DefaultGuessLimit = 5

	DefaultAppName = "Jelli Wallet"
)

type RealmConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// Config describes the realm topology and client-side hardening parameters.
type Config struct {
	Realms            []RealmConfig            `yaml:"realms"`
	RegisterThreshold int                      `yaml:"register_threshold"`
	RecoverThreshold  int                      `yaml:"recover_threshold"`
	MaxSecretSize     int                      `yaml:"max_secret_size"`
	Deadline          time.Duration            `yaml:"deadline"`
	TokenIssuerURL    string                   `yaml:"token_issuer_url"`
	AppName           string                   `yaml:"app_name"`
	PinKDF            cryptoutils.PinKDFParams `yaml:"pin_kdf"`
}

// DefaultConfig returns the 2-of-3 topology without realm addresses.
func DefaultConfig() *Config {
	return &Config{
		RegisterThreshold: 2,
		RecoverThreshold:  2,
		MaxSecretSize:     DefaultMaxSecretSize,
		Deadline:          30 * time.Second,
		AppName:           DefaultAppName,
		PinKDF:            cryptoutils.DefaultPinKDF,
	}
}

// LoadConfig reads a YAML realm configuration, filling unset fields with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read realm config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse realm config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Realms) == 0 {
		return errors.New("at least one realm is required")
	}

	seen := make(map[string]struct{}, len(c.Realms))
	for _, realm := range c.Realms {
		if realm.ID == "" {
			return errors.New("realm id is required")
		}
		if _, dup := seen[realm.ID]; dup {
			return fmt.Errorf("duplicate realm id %s", realm.ID)
		}
		seen[realm.ID] = struct{}{}
	}

	n := len(c.Realms)
	if c.RegisterThreshold < 1 || c.RegisterThreshold > n {
		return fmt.Errorf("register threshold %d out of range for %d realms", c.RegisterThreshold, n)
	}
	if c.RecoverThreshold < 1 || c.RecoverThreshold > c.RegisterThreshold {
		return fmt.Errorf("recover threshold %d must be between 1 and the register threshold %d", c.RecoverThreshold, c.RegisterThreshold)
	}
	if c.MaxSecretSize <= 0 {
		return errors.New("max secret size must be positive")
	}
	if c.Deadline <= 0 {
		return errors.New("deadline must be positive")
	}
	if c.PinKDF.Time == 0 || c.PinKDF.MemoryKiB == 0 || c.PinKDF.Threads == 0 {
		return errors.New("pin kdf parameters must be positive")
	}
	return nil
}

// SecretID maps context info to the identifier realms key registrations by.
func SecretID(contextInfo string) string {
	sum := sha256.Sum256([]byte("seedless/context/v1:" + contextInfo))
	return hex.EncodeToString(sum[:16])
}
