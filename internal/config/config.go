// Package config loads and validates the agent configuration: the HTTP
// server surface, logging, session policy, and the account list. Values
// come from a YAML file with ${VAR} expansion, then environment overrides
// with the EMAIL_AGENT_ prefix, then defaults.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	imap "github.com/zerolib/go-imap-session"
)

// EnvPrefix namespaces the environment overrides.
const EnvPrefix = "EMAIL_AGENT_"

// Session policy defaults. An absent key gets the default; an explicit
// zero is honored, which is why the fields are pointers.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 1.0  // seconds
	DefaultMaxBackoff     = 30.0 // seconds
	DefaultSessionTimeout = 1800 // seconds
)

// Config is the root of the configuration file.
type Config struct {
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`

	UseSessionManagement  *bool    `yaml:"use_session_management"`
	SessionMaxRetries     *int     `yaml:"session_max_retries"`
	SessionInitialBackoff *float64 `yaml:"session_initial_backoff"`
	SessionMaxBackoff     *float64 `yaml:"session_max_backoff"`
	SessionTimeout        *int     `yaml:"session_timeout"`

	EnableAttachmentDownload bool `yaml:"enable_attachment_download"`

	Accounts []Account `yaml:"accounts"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `yaml:"addr"`
	// AuthToken, when set, requires "Authorization: Bearer <token>" on
	// every API request.
	AuthToken string `yaml:"auth_token"`
}

// Logging configures the slog handler.
type Logging struct {
	Level string `yaml:"level"`
}

// Level maps the configured name to a slog level, defaulting to info.
func (l Logging) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Account is one mail account with its incoming (IMAP) and outgoing
// (SMTP) endpoints.
type Account struct {
	Name         string   `yaml:"name"`
	FullName     string   `yaml:"full_name"`
	EmailAddress string   `yaml:"email_address"`
	Incoming     Endpoint `yaml:"incoming"`
	Outgoing     Endpoint `yaml:"outgoing"`
	SaveToSent   *bool    `yaml:"save_to_sent"`
	SentFolder   string   `yaml:"sent_folder"`
}

// Endpoint is one server endpoint with credentials and TLS mode.
type Endpoint struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// UseSSL selects implicit TLS; defaults to true.
	UseSSL *bool `yaml:"use_ssl"`
	// StartSSL upgrades a plain connection with STARTTLS (outgoing only).
	StartSSL bool `yaml:"start_ssl"`
}

// SSL reports whether the endpoint uses implicit TLS.
func (e Endpoint) SSL() bool {
	return e.UseSSL == nil || *e.UseSSL
}

// SessionSettings is the resolved session policy.
type SessionSettings struct {
	Enabled        bool
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	SessionTimeout time.Duration
}

// Session resolves the session policy with defaults applied.
func (c *Config) Session() SessionSettings {
	s := SessionSettings{
		Enabled:        true,
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: secondsToDuration(DefaultInitialBackoff),
		MaxBackoff:     secondsToDuration(DefaultMaxBackoff),
		SessionTimeout: DefaultSessionTimeout * time.Second,
	}
	if c.UseSessionManagement != nil {
		s.Enabled = *c.UseSessionManagement
	}
	if c.SessionMaxRetries != nil {
		s.MaxRetries = *c.SessionMaxRetries
	}
	if c.SessionInitialBackoff != nil {
		s.InitialBackoff = secondsToDuration(*c.SessionInitialBackoff)
	}
	if c.SessionMaxBackoff != nil {
		s.MaxBackoff = secondsToDuration(*c.SessionMaxBackoff)
	}
	if c.SessionTimeout != nil {
		s.SessionTimeout = time.Duration(*c.SessionTimeout) * time.Second
	}
	return s
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SaveSent reports whether sent mail is appended to the sent mailbox.
func (a Account) SaveSent() bool {
	return a.SaveToSent == nil || *a.SaveToSent
}

// SentMailbox returns the mailbox receiving sent copies.
func (a Account) SentMailbox() string {
	if a.SentFolder != "" {
		return a.SentFolder
	}
	return "Sent"
}

// IMAPConfig maps the incoming endpoint plus session policy to the client
// library's configuration.
func (a Account) IMAPConfig(s SessionSettings) imap.Config {
	return imap.Config{
		Host:           a.Incoming.Host,
		Port:           a.Incoming.Port,
		Username:       a.Incoming.Username,
		Password:       a.Incoming.Password,
		PlainText:      !a.Incoming.SSL(),
		MaxRetries:     s.MaxRetries,
		InitialBackoff: s.InitialBackoff,
		MaxBackoff:     s.MaxBackoff,
		SessionTimeout: s.SessionTimeout,
		ClientName:     "email-agent",
	}
}

// Load reads, expands, overrides, defaults, and validates the
// configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv applies EMAIL_AGENT_* environment overrides, which win over
// file values.
func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvPrefix + "USE_SESSION_MANAGEMENT"); ok {
		b := parseBool(v)
		c.UseSessionManagement = &b
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SESSION_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "env %sSESSION_MAX_RETRIES", EnvPrefix)
		}
		c.SessionMaxRetries = &n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SESSION_INITIAL_BACKOFF"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "env %sSESSION_INITIAL_BACKOFF", EnvPrefix)
		}
		c.SessionInitialBackoff = &f
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SESSION_MAX_BACKOFF"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "env %sSESSION_MAX_BACKOFF", EnvPrefix)
		}
		c.SessionMaxBackoff = &f
	}
	if v, ok := os.LookupEnv(EnvPrefix + "SESSION_TIMEOUT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "env %sSESSION_TIMEOUT", EnvPrefix)
		}
		c.SessionTimeout = &n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "AUTH_TOKEN"); ok {
		c.Server.AuthToken = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return nil
}

// parseBool accepts the usual truthy spellings; anything else is false.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	s := c.Session()
	if s.MaxRetries < 0 {
		return errors.New("session_max_retries must be >= 0")
	}
	if s.InitialBackoff <= 0 {
		return errors.New("session_initial_backoff must be > 0")
	}
	if s.MaxBackoff < s.InitialBackoff {
		return errors.New("session_max_backoff must be >= session_initial_backoff")
	}
	if s.SessionTimeout <= 0 {
		return errors.New("session_timeout must be > 0")
	}

	if len(c.Accounts) == 0 {
		return errors.New("at least one account is required")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		if a.Name == "" {
			return errors.Errorf("account %d: name is required", i)
		}
		if seen[a.Name] {
			return errors.Errorf("account %q: duplicate name", a.Name)
		}
		seen[a.Name] = true
		if err := a.Incoming.validate(); err != nil {
			return errors.Wrapf(err, "account %q: incoming", a.Name)
		}
		if err := a.Outgoing.validate(); err != nil {
			return errors.Wrapf(err, "account %q: outgoing", a.Name)
		}
	}
	return nil
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return errors.New("host is required")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return errors.Errorf("invalid port %d", e.Port)
	}
	if e.Username == "" {
		return errors.New("username is required")
	}
	if e.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// Account looks an account up by name.
func (c *Config) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}
