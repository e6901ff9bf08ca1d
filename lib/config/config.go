// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/linebridge/lib/compress"
	"github.com/bureau-foundation/linebridge/lib/jid"
	"github.com/bureau-foundation/linebridge/lib/sealed"
	"github.com/bureau-foundation/linebridge/lib/secret"
)

// Environment variables read by the command.
const (
	EnvConfig   = "LINEBRIDGE_CONFIG"
	EnvJID      = "XMPPBRIDGE_JID"
	EnvPassword = "XMPPBRIDGE_PASSWORD"
	EnvPeerJID  = "XMPPBRIDGE_PEER_JID"
)

// Backend names a session implementation.
type Backend string

const (
	// BackendNATS exchanges envelopes through a NATS server.
	BackendNATS Backend = "nats"
	// BackendMatrix bridges through a Matrix room.
	BackendMatrix Backend = "matrix"
)

// Config is the complete linebridge configuration.
type Config struct {
	// Backend selects the messaging service.
	Backend Backend `yaml:"backend"`

	// Identity configures who this bridge is and who it talks to.
	Identity IdentityConfig `yaml:"identity"`

	// NATS configures the NATS backend.
	NATS NATSConfig `yaml:"nats"`

	// Matrix configures the Matrix backend.
	Matrix MatrixConfig `yaml:"matrix"`

	// Bridge configures the line loop.
	Bridge BridgeConfig `yaml:"bridge"`

	// DropPrivileges is "auto" (only when started as root), "always",
	// or "never".
	DropPrivileges string `yaml:"drop_privileges"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// IdentityConfig holds the local and peer identifiers and the password
// source.
type IdentityConfig struct {
	// JID is the local identifier, local@domain or local@domain/resource.
	JID string `yaml:"jid"`

	// Peer is the identifier whose messages are accepted and to which
	// lines are sent. A bare peer accepts every resource.
	Peer string `yaml:"peer"`

	// PasswordFile holds the password. A file ending in .age is
	// decrypted with AgeIdentityFile.
	PasswordFile string `yaml:"password_file"`

	// AgeIdentityFile holds the age identity for a sealed PasswordFile.
	AgeIdentityFile string `yaml:"age_identity_file"`

	// Password is set only from the environment. It is never read from
	// or written to a file.
	Password string `yaml:"-" json:"-"`
}

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	// URL is the server URL.
	URL string `yaml:"url"`

	// SubjectPrefix begins every inbox subject.
	SubjectPrefix string `yaml:"subject_prefix"`

	// Compression is "auto", "none", "lz4", or "zstd".
	Compression string `yaml:"compression"`
}

// MatrixConfig configures the Matrix backend.
type MatrixConfig struct {
	// Homeserver is the client-server API base URL. Empty derives
	// https://<domain of identity.jid>.
	Homeserver string `yaml:"homeserver"`

	// Room is the room ID or alias to bridge through.
	Room string `yaml:"room"`

	// SyncTimeout is the /sync long-poll duration.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// BridgeConfig configures the line loop.
type BridgeConfig struct {
	// ShowDelayed delivers messages stored while this side was offline.
	ShowDelayed bool `yaml:"show_delayed"`

	// PollInterval bounds one readiness wait.
	PollInterval time.Duration `yaml:"poll_interval"`

	// DrainTimeout bounds the output flush after end of input.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// PTY runs a child command on a pseudo-terminal instead of pipes.
	PTY bool `yaml:"pty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `yaml:"level"`

	// Format is "auto" (text on a terminal, JSON otherwise), "text", or
	// "json".
	Format string `yaml:"format"`
}

// Default returns a Config with every optional field set. The identity
// section is empty and must be supplied.
func Default() *Config {
	return &Config{
		Backend: BackendNATS,
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "linebridge",
			Compression:   "auto",
		},
		Matrix: MatrixConfig{
			SyncTimeout: 30 * time.Second,
		},
		Bridge: BridgeConfig{
			PollInterval: 100 * time.Millisecond,
			DrainTimeout: 5 * time.Second,
		},
		DropPrivileges: "auto",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// LoadFile loads configuration from path on top of Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.expandVariables(os.LookupEnv)

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

// ApplyEnvironment overrides the identity section from lookup, which
// has the signature of os.LookupEnv. Set but empty variables are
// ignored.
func (c *Config) ApplyEnvironment(lookup func(string) (string, bool)) {
	if value, ok := lookup(EnvJID); ok && value != "" {
		c.Identity.JID = value
	}
	if value, ok := lookup(EnvPeerJID); ok && value != "" {
		c.Identity.Peer = value
	}
	if value, ok := lookup(EnvPassword); ok && value != "" {
		c.Identity.Password = value
	}
}

func (c *Config) expandVariables(lookup func(string) (string, bool)) {
	c.Identity.PasswordFile = expandVars(c.Identity.PasswordFile, lookup)
	c.Identity.AgeIdentityFile = expandVars(c.Identity.AgeIdentityFile, lookup)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, lookup func(string) (string, bool)) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := lookup(name); ok && value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Identity.JID == "" {
		errs = append(errs, fmt.Errorf("identity.jid is required (or set $%s)", EnvJID))
	} else if _, err := jid.Parse(c.Identity.JID); err != nil {
		errs = append(errs, fmt.Errorf("identity.jid: '%s' is not a valid JID: %w", c.Identity.JID, err))
	}

	if c.Identity.Peer == "" {
		errs = append(errs, fmt.Errorf("identity.peer is required (or set $%s)", EnvPeerJID))
	} else if _, err := jid.Parse(c.Identity.Peer); err != nil {
		errs = append(errs, fmt.Errorf("identity.peer: '%s' is not a valid peer JID: %w", c.Identity.Peer, err))
	}

	if c.Identity.Password == "" && c.Identity.PasswordFile == "" {
		errs = append(errs, fmt.Errorf("identity.password_file is required (or set $%s)", EnvPassword))
	}
	if c.Identity.Password == "" && sealed.IsSealed(c.Identity.PasswordFile) && c.Identity.AgeIdentityFile == "" {
		errs = append(errs, fmt.Errorf("identity.age_identity_file is required to decrypt %s", c.Identity.PasswordFile))
	}

	switch c.Backend {
	case BackendNATS:
		if c.NATS.URL == "" {
			errs = append(errs, fmt.Errorf("nats.url is required"))
		}
		if c.NATS.SubjectPrefix == "" || strings.ContainsAny(c.NATS.SubjectPrefix, " *>") {
			errs = append(errs, fmt.Errorf("nats.subject_prefix %q is not a valid subject prefix", c.NATS.SubjectPrefix))
		}
		if c.NATS.Compression != "auto" {
			if _, err := compress.ParseTag(c.NATS.Compression); err != nil {
				errs = append(errs, fmt.Errorf("nats.compression must be auto, none, lz4, or zstd"))
			}
		}
	case BackendMatrix:
		if c.Matrix.Room == "" {
			errs = append(errs, fmt.Errorf("matrix.room is required"))
		}
		if c.Matrix.SyncTimeout <= 0 {
			errs = append(errs, fmt.Errorf("matrix.sync_timeout must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("backend must be one of: %v", []Backend{BackendNATS, BackendMatrix}))
	}

	if c.Bridge.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("bridge.poll_interval must be positive"))
	}
	if c.Bridge.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bridge.drain_timeout must be positive"))
	}

	privilegeModes := []string{"auto", "always", "never"}
	if !slices.Contains(privilegeModes, c.DropPrivileges) {
		errs = append(errs, fmt.Errorf("drop_privileges must be one of: %v", privilegeModes))
	}

	levels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(levels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level must be one of: %v", levels))
	}
	formats := []string{"auto", "text", "json"}
	if !slices.Contains(formats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be one of: %v", formats))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LoadPassword returns the password in protected memory: from the
// environment when set, otherwise from PasswordFile (decrypted when
// sealed). The in-memory copy in Identity.Password is cleared. The
// caller must Close the buffer.
func (c *Config) LoadPassword() (*secret.Buffer, error) {
	if c.Identity.Password != "" {
		buffer, err := secret.NewFromString(c.Identity.Password)
		c.Identity.Password = ""
		if err != nil {
			return nil, fmt.Errorf("config: protecting password: %w", err)
		}
		return buffer, nil
	}
	if c.Identity.PasswordFile == "" {
		return nil, fmt.Errorf("config: no password configured")
	}
	if sealed.IsSealed(c.Identity.PasswordFile) {
		buffer, err := sealed.DecryptFile(c.Identity.PasswordFile, c.Identity.AgeIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return buffer, nil
	}
	buffer, err := secret.ReadFromPath(c.Identity.PasswordFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return buffer, nil
}
