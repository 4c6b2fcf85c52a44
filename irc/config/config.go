package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/lrstanley/girc"
	"gopkg.in/yaml.v3"
)

// ErrMissingIdentity is returned when no nickname or password could be found
var ErrMissingIdentity = errors.New("config: bot nickname and password are required")

// Config represents the bot configuration
type Config struct {
	// Server settings
	Server struct {
		Host string `yaml:"host" toml:"host" json:"host" env:"IRCBOT_SERVER" validate:"required"`
		Port int    `yaml:"port" toml:"port" json:"port" env:"IRCBOT_PORT" validate:"min=1,max=65535"`
	} `yaml:"server" toml:"server" json:"server"`

	// Identity used to register and identify with NickServ
	Identity struct {
		Nickname     string `yaml:"nickname" toml:"nickname" json:"nickname" env:"IRCBOT_NICKNAME"`
		NicknameFile string `yaml:"nickname_file" toml:"nickname_file" json:"nickname_file" env:"IRCBOT_NICKNAME_FILE"`
		Password     string `yaml:"password" toml:"password" json:"password" env:"IRCBOT_PASSWORD"`
		PasswordFile string `yaml:"password_file" toml:"password_file" json:"password_file" env:"IRCBOT_PASSWORD_FILE"`
		Realname     string `yaml:"realname" toml:"realname" json:"realname" env:"IRCBOT_REALNAME"`
	} `yaml:"identity" toml:"identity" json:"identity"`

	// Channels to join
	Channels struct {
		Main  string   `yaml:"main" toml:"main" json:"main" env:"IRCBOT_CHANNEL" validate:"required"`
		Extra []string `yaml:"extra" toml:"extra" json:"extra" env:"IRCBOT_EXTRA_CHANNELS"`
	} `yaml:"channels" toml:"channels" json:"channels"`

	// Bot behavior
	Bot struct {
		Verbosity    int      `yaml:"verbosity" toml:"verbosity" json:"verbosity" env:"IRCBOT_VERBOSITY"`
		PollSeconds  int      `yaml:"poll_seconds" toml:"poll_seconds" json:"poll_seconds" env:"IRCBOT_POLL_SECONDS" validate:"min=1"`
		Operators    []string `yaml:"operators" toml:"operators" json:"operators" env:"IRCBOT_OPERATORS"`
		VersionReply string   `yaml:"version_reply" toml:"version_reply" json:"version_reply" env:"IRCBOT_VERSION_REPLY"`
		About        string   `yaml:"about" toml:"about" json:"about" env:"IRCBOT_ABOUT"`
	} `yaml:"bot" toml:"bot" json:"bot"`

	// Metrics and health endpoint
	Metrics struct {
		Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled" env:"IRCBOT_METRICS_ENABLED"`
		Addr    string `yaml:"addr" toml:"addr" json:"addr" env:"IRCBOT_METRICS_ADDR" validate:"required_if=Enabled true"`
	} `yaml:"metrics" toml:"metrics" json:"metrics"`

	// Configuration source, empty when only defaults and environment are used
	Source string `yaml:"-" toml:"-" json:"-"`
}

// Default returns a configuration with defaults applied and no identity
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 6667
	cfg.Identity.NicknameFile = "nickname"
	cfg.Identity.PasswordFile = "password"
	cfg.Identity.Realname = "Experimental bot."
	cfg.Bot.PollSeconds = 5
	cfg.Metrics.Addr = "127.0.0.1:7070"
	return cfg
}

// Load loads configuration from a file or URL, then applies environment
// variable overrides. An empty source loads defaults and environment only.
// Identity files are not read here; call ResolveIdentity.
func Load(source string) (*Config, error) {
	cfg := Default()

	if source != "" {
		if err := cfg.loadFromSource(source); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadFromSource loads configuration from a file or URL
func (c *Config) loadFromSource(source string) error {
	var data []byte
	var err error

	// Check if the source is a URL
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(source)
		if err != nil {
			return fmt.Errorf("failed to load config from URL: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("failed to load config from URL, status: %s", resp.Status)
		}

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read config from URL: %w", err)
		}
	} else {
		data, err = os.ReadFile(source)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Determine the format based on extension
	path := strings.ToLower(strings.SplitN(source, "?", 2)[0])
	switch {
	case strings.HasSuffix(path, ".toml"):
		err = toml.Unmarshal(data, c)
	case strings.HasSuffix(path, ".json"):
		err = json.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}

	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	c.Source = source
	return nil
}

// ResolveIdentity fills the nickname and password from their files when they
// were not set directly. Each file holds the value on its first line.
func (c *Config) ResolveIdentity() error {
	if c.Identity.Nickname == "" {
		nick, err := readFirstLine(c.Identity.NicknameFile)
		if err != nil {
			return fmt.Errorf("%w: put the bot's nickname in a file called %q: %w", ErrMissingIdentity, c.Identity.NicknameFile, err)
		}
		c.Identity.Nickname = nick
	}

	if c.Identity.Password == "" {
		pass, err := readFirstLine(c.Identity.PasswordFile)
		if err != nil {
			return fmt.Errorf("%w: put the bot's password in a file called %q: %w", ErrMissingIdentity, c.Identity.PasswordFile, err)
		}
		c.Identity.Password = pass
	}

	return nil
}

func readFirstLine(path string) (string, error) {
	if path == "" {
		return "", errors.New("no file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("file is empty")
	}
	return line, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. A missing nickname or password is
// reported as ErrMissingIdentity.
func (c *Config) Validate() error {
	if c.Identity.Nickname == "" || c.Identity.Password == "" {
		return ErrMissingIdentity
	}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid configuration: %s", strings.Join(msgs, ", "))
		}
		return fmt.Errorf("config: %w", err)
	}

	if !girc.IsValidNick(c.Identity.Nickname) {
		return fmt.Errorf("config: invalid nickname %q", c.Identity.Nickname)
	}

	for _, channel := range c.AllChannels() {
		if !girc.IsValidChannel(channel) {
			return fmt.Errorf("config: invalid channel %q", channel)
		}
	}

	return nil
}

// AllChannels returns the main channel followed by the extra channels
func (c *Config) AllChannels() []string {
	channels := make([]string, 0, 1+len(c.Channels.Extra))
	if c.Channels.Main != "" {
		channels = append(channels, c.Channels.Main)
	}
	for _, ch := range c.Channels.Extra {
		if ch = strings.TrimSpace(ch); ch != "" {
			channels = append(channels, ch)
		}
	}
	return channels
}

// PollInterval returns how long the bot waits for a message per loop
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Bot.PollSeconds) * time.Second
}

// GetServerAddress returns the host:port of the IRC server
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem())
}

// applyEnvOverridesRecursive recursively applies environment variable overrides
func applyEnvOverridesRecursive(v reflect.Value) {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldValue := v.Field(i)

		// Skip unexported fields
		if field.PkgPath != "" {
			continue
		}

		if envTag := field.Tag.Get("env"); envTag != "" {
			if envValue, exists := os.LookupEnv(envTag); exists {
				setFieldFromEnv(fieldValue, envValue)
			}
		} else if field.Type.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(fieldValue)
		}
	}
}

// setFieldFromEnv sets a field's value from an environment variable
func setFieldFromEnv(field reflect.Value, envValue string) {
	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(strings.TrimSpace(envValue), 10, 64); err == nil {
			field.SetInt(v)
		}
	case reflect.Bool:
		field.SetBool(parseBool(envValue))
	case reflect.Slice:
		// Comma separated string slices
		if field.Type().Elem().Kind() == reflect.String {
			var values []string
			for _, v := range strings.Split(envValue, ",") {
				if v = strings.TrimSpace(v); v != "" {
					values = append(values, v)
				}
			}
			slice := reflect.MakeSlice(field.Type(), len(values), len(values))
			for i, v := range values {
				slice.Index(i).SetString(v)
			}
			field.Set(slice)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "y"
}
