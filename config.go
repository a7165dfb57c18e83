package imap

import (
	"net"
	"strconv"
	"time"
)

// AuthMethod selects how connections authenticate.
type AuthMethod int

const (
	// AuthLogin uses the LOGIN command with username and password.
	AuthLogin AuthMethod = iota
	// AuthXOAuth2 uses AUTHENTICATE XOAUTH2 with an OAuth 2.0 access token
	// in the Password field.
	AuthXOAuth2
)

// Default session settings, applied where the corresponding Config field is
// left zero.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultSessionTimeout = 30 * time.Minute
	DefaultDialTimeout    = 30 * time.Second
	DefaultCommandTimeout = 60 * time.Second
)

// Config describes one IMAP endpoint plus the session policy applied to it.
// The zero value is not usable; Host, Port, Username and Password are
// required.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Auth     AuthMethod

	// PlainText disables implicit TLS. Connections are TLS by default.
	PlainText     bool
	TLSSkipVerify bool

	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// MaxRetries is how many times a retryably failing operation is retried
	// after its first attempt. Zero means no retries; the documented default
	// of 3 is applied by configuration loading, not here, so an explicit
	// zero stays zero.
	MaxRetries int

	// InitialBackoff and MaxBackoff bound the exponential delay between
	// attempts.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// SessionTimeout is the age at which a live session is considered stale
	// and proactively replaced before the next operation.
	SessionTimeout time.Duration

	// ClientName and ClientVersion are advertised with the IMAP ID command
	// after login.
	ClientName    string
	ClientVersion string
}

// Addr returns the host:port dial target.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.ClientName == "" {
		c.ClientName = "go-imap-session"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "1.0"
	}
	return c
}
