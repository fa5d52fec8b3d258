// Package config loads gateway configuration from an optional YAML file and
// the environment. Environment variables always win over file values.
// Account passwords are never read from the YAML file; they come from
// MAILGATE_IMAP_<SEGMENT>_PASS or, failing that, the OS keyring.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/kwarren/mailgate/internal/apperr"
)

const (
	// AppName is the keyring service name.
	AppName = "mailgate"

	// EnvPrefix is the prefix shared by all environment variables.
	EnvPrefix = "MAILGATE_"

	// WriteEnabledVar gates all mutating operations. The disabled-write
	// error names this variable so callers know what to flip.
	WriteEnabledVar = "MAILGATE_WRITE_ENABLED"

	defaultIMAPPort = 993
)

var accountHostPattern = regexp.MustCompile(`^MAILGATE_IMAP_([A-Z0-9_]+)_HOST$`)

// Account holds connection parameters for one IMAP account. Immutable
// after load; Secure=false is rejected at connection time, not here.
type Account struct {
	ID     string `yaml:"id"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure bool   `yaml:"secure"`
	User   string `yaml:"user"`
	Pass   Secret `yaml:"-"`
}

// Addr returns the host:port dial address.
func (a Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// fileAccount is the YAML shape of an account. Secure defaults to true
// unless the file says otherwise.
type fileAccount struct {
	ID     string `yaml:"id"`
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Secure *bool  `yaml:"secure"`
	User   string `yaml:"user"`
}

type fileConfig struct {
	Accounts []fileAccount `yaml:"accounts"`
	Server   struct {
		WriteEnabled      *bool  `yaml:"write_enabled"`
		ConnectTimeoutMS  *int64 `yaml:"connect_timeout_ms"`
		GreetingTimeoutMS *int64 `yaml:"greeting_timeout_ms"`
		SocketTimeoutMS   *int64 `yaml:"socket_timeout_ms"`
		CursorTTLSeconds  *int64 `yaml:"cursor_ttl_seconds"`
		CursorMaxEntries  *int   `yaml:"cursor_max_entries"`
		MetricsAddr       string `yaml:"metrics_addr"`
	} `yaml:"server"`
}

// Config is the full gateway configuration, read-only after Load.
type Config struct {
	Accounts map[string]Account

	WriteEnabled    bool
	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	SocketTimeout   time.Duration
	CursorTTL       time.Duration
	CursorMax       int
	MetricsAddr     string
}

// Load reads the YAML file at path (ignored when path is empty or the file
// does not exist), then applies environment overrides. At least one account
// must resolve with a non-empty password.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Accounts:        make(map[string]Account),
		ConnectTimeout:  30 * time.Second,
		GreetingTimeout: 15 * time.Second,
		SocketTimeout:   300 * time.Second,
		CursorTTL:       600 * time.Second,
		CursorMax:       512,
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if len(cfg.Accounts) == 0 {
		return nil, apperr.Invalidf("no accounts configured; set MAILGATE_IMAP_DEFAULT_HOST, _USER and _PASS")
	}
	for id, acct := range cfg.Accounts {
		if acct.Pass.IsZero() {
			pass, err := resolveKeyringPassword(acct.User)
			if err != nil {
				return nil, apperr.Newf(apperr.KindInvalidInput,
					"no password for account %q: set MAILGATE_IMAP_%s_PASS or store one with 'mailgate account set-password'",
					id, strings.ToUpper(id))
			}
			acct.Pass = NewSecret(pass)
			cfg.Accounts[id] = acct
		}
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "reading config file")
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return errors.Wrap(err, "parsing config file")
	}

	for _, fa := range fc.Accounts {
		if fa.ID == "" || fa.Host == "" || fa.User == "" {
			return apperr.Invalidf("config file account needs id, host and user")
		}
		acct := Account{
			ID:     strings.ToLower(fa.ID),
			Host:   fa.Host,
			Port:   fa.Port,
			Secure: true,
			User:   fa.User,
		}
		if acct.Port == 0 {
			acct.Port = defaultIMAPPort
		}
		if fa.Secure != nil {
			acct.Secure = *fa.Secure
		}
		c.Accounts[acct.ID] = acct
	}

	s := fc.Server
	if s.WriteEnabled != nil {
		c.WriteEnabled = *s.WriteEnabled
	}
	if s.ConnectTimeoutMS != nil {
		c.ConnectTimeout = time.Duration(*s.ConnectTimeoutMS) * time.Millisecond
	}
	if s.GreetingTimeoutMS != nil {
		c.GreetingTimeout = time.Duration(*s.GreetingTimeoutMS) * time.Millisecond
	}
	if s.SocketTimeoutMS != nil {
		c.SocketTimeout = time.Duration(*s.SocketTimeoutMS) * time.Millisecond
	}
	if s.CursorTTLSeconds != nil {
		c.CursorTTL = time.Duration(*s.CursorTTLSeconds) * time.Second
	}
	if s.CursorMaxEntries != nil {
		c.CursorMax = *s.CursorMaxEntries
	}
	if s.MetricsAddr != "" {
		c.MetricsAddr = s.MetricsAddr
	}
	return nil
}

func (c *Config) applyEnv() error {
	segments := discoverAccountSegments()
	for _, seg := range segments {
		acct, err := loadEnvAccount(seg)
		if err != nil {
			return err
		}
		// Env accounts override file accounts with the same id wholesale.
		c.Accounts[acct.ID] = acct
	}

	var err error
	if c.WriteEnabled, err = boolEnv(WriteEnabledVar, c.WriteEnabled); err != nil {
		return err
	}
	if c.ConnectTimeout, err = millisEnv("MAILGATE_CONNECT_TIMEOUT_MS", c.ConnectTimeout); err != nil {
		return err
	}
	if c.GreetingTimeout, err = millisEnv("MAILGATE_GREETING_TIMEOUT_MS", c.GreetingTimeout); err != nil {
		return err
	}
	if c.SocketTimeout, err = millisEnv("MAILGATE_SOCKET_TIMEOUT_MS", c.SocketTimeout); err != nil {
		return err
	}
	if c.CursorTTL, err = secondsEnv("MAILGATE_CURSOR_TTL_SECONDS", c.CursorTTL); err != nil {
		return err
	}
	if c.CursorMax, err = intEnv("MAILGATE_CURSOR_MAX_ENTRIES", c.CursorMax); err != nil {
		return err
	}
	if v := os.Getenv("MAILGATE_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	return nil
}

func discoverAccountSegments() []string {
	var segs []string
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if m := accountHostPattern.FindStringSubmatch(key); m != nil {
			segs = append(segs, m[1])
		}
	}
	sort.Strings(segs)
	return segs
}

func loadEnvAccount(segment string) (Account, error) {
	prefix := "MAILGATE_IMAP_" + segment + "_"

	host, err := requiredEnv(prefix + "HOST")
	if err != nil {
		return Account{}, err
	}
	user, err := requiredEnv(prefix + "USER")
	if err != nil {
		return Account{}, err
	}

	id := strings.ToLower(segment)
	port, err := intEnv(prefix+"PORT", defaultIMAPPort)
	if err != nil {
		return Account{}, err
	}
	secure, err := boolEnv(prefix+"SECURE", true)
	if err != nil {
		return Account{}, err
	}

	return Account{
		ID:     id,
		Host:   host,
		Port:   port,
		Secure: secure,
		User:   user,
		Pass:   NewSecret(os.Getenv(prefix + "PASS")),
	}, nil
}

func resolveKeyringPassword(user string) (string, error) {
	pass, err := keyring.Get(AppName, user)
	if err != nil {
		return "", errors.Wrap(err, "keyring lookup")
	}
	return pass, nil
}

// SetKeyringPassword stores a password for the given account user in the
// OS keyring.
func SetKeyringPassword(user, password string) error {
	return keyring.Set(AppName, user, password)
}

func requiredEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", apperr.Invalidf("missing required environment variable %s", key)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, apperr.Invalidf("invalid boolean environment variable %s: %q", key, v)
	}
}

func intEnv(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, apperr.Invalidf("invalid integer environment variable %s: %q", key, v)
	}
	return n, nil
}

func millisEnv(key string, def time.Duration) (time.Duration, error) {
	n, err := intEnv(key, int(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func secondsEnv(key string, def time.Duration) (time.Duration, error) {
	n, err := intEnv(key, int(def/time.Second))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
