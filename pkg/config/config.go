package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when neither a flag nor RELAY_CONFIG_PATH is given.
const DefaultConfigPath = "./config.yaml"

// DefaultSMTPProfile is the profile used by source apps that do not name one.
const DefaultSMTPProfile = "default"

// AppType is the role a kintone app plays for the relay.
type AppType string

const (
	// AppTypeSource apps emit the webhooks the relay accepts.
	AppTypeSource AppType = "source"
	// AppTypeTemplate apps hold the mail template record.
	AppTypeTemplate AppType = "template"
	// AppTypeLog apps receive one delivery-log record per sent mail.
	AppTypeLog AppType = "log"
)

func (t AppType) valid() bool {
	switch t {
	case AppTypeSource, AppTypeTemplate, AppTypeLog:
		return true
	}
	return false
}

// AppID is a kintone app id normalized to its string form. kintone sends app ids
// as strings in webhooks while configuration files usually carry numbers; both
// decode into the same AppID so "3" and 3 compare equal.
type AppID string

// UnmarshalYAML accepts both scalar numbers and strings.
func (id *AppID) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	norm, err := normalizeID(raw)
	if err != nil {
		return err
	}
	*id = norm
	return nil
}

// UnmarshalJSON accepts both JSON numbers and strings.
func (id *AppID) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("app id: %w", err)
		}
		*id = AppID(unquoted)
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*id = AppID(strconv.FormatInt(n, 10))
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("app id must be a string or number, got %s", s)
	}
	*id = AppID(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

func (id AppID) String() string { return string(id) }

func normalizeID(raw interface{}) (AppID, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case string:
		return AppID(v), nil
	case int:
		return AppID(strconv.Itoa(v)), nil
	case int64:
		return AppID(strconv.FormatInt(v, 10)), nil
	case uint64:
		return AppID(strconv.FormatUint(v, 10)), nil
	case float64:
		return AppID(strconv.FormatFloat(v, 'f', -1, 64)), nil
	default:
		return "", fmt.Errorf("app id must be a string or number, got %T", raw)
	}
}

// App describes one kintone app the relay talks to.
type App struct {
	ID       AppID   `yaml:"id" json:"id"`
	Type     AppType `yaml:"type" json:"type"`
	APIToken string  `yaml:"apiToken" json:"-"`
	// Types lists the webhook types (ADD_RECORD, UPDATE_RECORD, ...) accepted
	// from a source app. Ignored for other roles.
	Types []string `yaml:"types" json:"types,omitempty"`
	// SMTPProfile names the smtpServers entry used for mails triggered by this
	// source app. Empty means DefaultSMTPProfile.
	SMTPProfile string `yaml:"smtpProfile" json:"smtpProfile,omitempty"`
}

// Profile returns the SMTP profile name for a source app.
func (a App) Profile() string {
	if a.SMTPProfile == "" {
		return DefaultSMTPProfile
	}
	return a.SMTPProfile
}

type SMTPAuth struct {
	User string `yaml:"user"`
	Pass string `yaml:"pass"`
}

// SMTPProfile is a named bundle of mail transport settings. The field names
// follow the nodemailer transport options so existing config.json files keep working.
type SMTPProfile struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Secure enables implicit TLS (SMTPS). When false, STARTTLS is used if the
	// server offers it.
	Secure             bool     `yaml:"secure"`
	Auth               SMTPAuth `yaml:"auth"`
	InsecureSkipVerify bool     `yaml:"insecureSkipVerify"`
}

type Kintone struct {
	Domain string `yaml:"domain"`
	// BaseURL overrides https://<domain> for the REST client, e.g. for a proxy.
	BaseURL string `yaml:"baseURL"`
	// Timeout is an optional Go duration for kintone calls. Empty means no timeout.
	Timeout string `yaml:"timeout"`
	Apps    []App  `yaml:"apps"`
}

type RateLimit struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type Server struct {
	ListenAddress  string    `yaml:"listenAddress"`
	TLSCertFile    string    `yaml:"tlsCertFile"`
	TLSKeyFile     string    `yaml:"tlsKeyFile"`
	TrustedProxies []string  `yaml:"trustedProxies"`
	RateLimit      RateLimit `yaml:"rateLimit"`
}

type KafkaSASL struct {
	// Mechanism is PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type Kafka struct {
	Brokers      []string  `yaml:"brokers"`
	Topic        string    `yaml:"topic"`
	WriteTimeout string    `yaml:"writeTimeout"`
	TLS          bool      `yaml:"tls"`
	SASL         KafkaSASL `yaml:"sasl"`
}

// Events configures where delivery events are published after a mail has been
// logged. Without Kafka brokers they are written to the process log.
type Events struct {
	Kafka Kafka `yaml:"kafka"`
}

type Config struct {
	SMTPServers []SMTPProfile `yaml:"smtpServers"`
	Kintone     Kintone       `yaml:"kintone"`
	Server      Server        `yaml:"server"`
	Events      Events        `yaml:"events"`
}

// Load loads the relay configuration from a file path.
// If configPath is empty, defaults to DefaultConfigPath. ${VAR} references in the
// file are expanded from the environment before parsing, so API tokens and SMTP
// passwords can be injected without writing them to disk. JSON files parse too.
func Load(configPath ...string) (Config, error) {
	path := DefaultConfigPath
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open relay config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.Defaults()
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid relay config %s: %w", path, err)
	}
	return config, nil
}

// Defaults fills in optional settings.
func (c *Config) Defaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":8080"
	}
	for i := range c.SMTPServers {
		if c.SMTPServers[i].Port == 0 {
			if c.SMTPServers[i].Secure {
				c.SMTPServers[i].Port = 465
			} else {
				c.SMTPServers[i].Port = 587
			}
		}
	}
}

// Validate checks the shape of every entry. Missing roles are not an error here:
// a relay without a log app still sends mail and reports the gap per request.
func (c Config) Validate() error {
	if c.Kintone.Domain == "" {
		return &ConfigError{Op: "validate", Msg: "kintone.domain is required"}
	}
	if c.Kintone.Timeout != "" {
		if _, err := time.ParseDuration(c.Kintone.Timeout); err != nil {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("kintone.timeout %q", c.Kintone.Timeout), Err: err}
		}
	}

	profiles := make(map[string]struct{}, len(c.SMTPServers))
	for i, p := range c.SMTPServers {
		if p.Name == "" {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("smtpServers[%d]: name is required", i)}
		}
		if p.Host == "" {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("smtpServers[%d] %q: host is required", i, p.Name)}
		}
		if _, dup := profiles[p.Name]; dup {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("smtpServers: duplicate profile %q", p.Name)}
		}
		profiles[p.Name] = struct{}{}
	}

	for i, app := range c.Kintone.Apps {
		if !app.Type.valid() {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("kintone.apps[%d]: unknown type %q", i, app.Type)}
		}
		if app.ID == "" {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("kintone.apps[%d] (%s): id is required", i, app.Type)}
		}
		if app.APIToken == "" {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("kintone.apps[%d] (%s %s): apiToken is required", i, app.Type, app.ID)}
		}
		if app.Type == AppTypeSource && app.SMTPProfile != "" {
			if _, ok := profiles[app.SMTPProfile]; !ok {
				return &ConfigError{Op: "validate", Msg: fmt.Sprintf("kintone.apps[%d] (source %s): unknown smtpProfile %q", i, app.ID, app.SMTPProfile)}
			}
		}
	}

	if c.Server.RateLimit.Rate < 0 || c.Server.RateLimit.Burst < 0 {
		return &ConfigError{Op: "validate", Msg: "server.rateLimit must not be negative"}
	}
	if len(c.Events.Kafka.Brokers) > 0 && c.Events.Kafka.Topic == "" {
		return &ConfigError{Op: "validate", Msg: "events.kafka.topic is required when brokers are set"}
	}
	if c.Events.Kafka.WriteTimeout != "" {
		if _, err := time.ParseDuration(c.Events.Kafka.WriteTimeout); err != nil {
			return &ConfigError{Op: "validate", Msg: fmt.Sprintf("events.kafka.writeTimeout %q", c.Events.Kafka.WriteTimeout), Err: err}
		}
	}
	return nil
}

// KintoneTimeout returns the parsed kintone timeout, zero when unset.
func (c Config) KintoneTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Kintone.Timeout)
	return d
}

// KafkaWriteTimeout returns the parsed Kafka write timeout, zero when unset.
func (c Config) KafkaWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Events.Kafka.WriteTimeout)
	return d
}
