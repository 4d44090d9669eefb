package config

import (
	"fmt"
	"os"
	"strconv"
)

// DBConfig is the PostgreSQL connection used by the postgres store.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	// SlowQueryMillis is the threshold above which queries are logged as slow.
	SlowQueryMillis int `yaml:"slow_query_ms"`
	MaxConns        int `yaml:"max_conns"`
}

// MQConfig points at the RabbitMQ broker. An empty URL disables queued notifications.
type MQConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig is used by the notification guard and the ingest deduper.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig enables bearer auth on the query API when Secret is set.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

// StoreConfig selects the message store backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// AccountConfig is one mailbox the listener connects to.
type AccountConfig struct {
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	Mailbox  string `yaml:"mailbox"`
}

// ID identifies the account in stored documents and logs.
func (a AccountConfig) ID() string {
	if a.Name != "" {
		return a.Name
	}
	return a.User
}

// Addr returns host:port, defaulting to the IMAPS port.
func (a AccountConfig) Addr() string {
	port := a.Port
	if port == 0 {
		port = 993
	}
	return fmt.Sprintf("%s:%d", a.Host, port)
}

// MailboxName defaults to INBOX.
func (a AccountConfig) MailboxName() string {
	if a.Mailbox == "" {
		return "INBOX"
	}
	return a.Mailbox
}

// ListenerConfig bounds the per-account reconnect loop.
type ListenerConfig struct {
	ReconnectInitialSeconds int `yaml:"reconnect_initial_seconds"`
	ReconnectMaxSeconds     int `yaml:"reconnect_max_seconds"`
	// MaxAttempts is the number of consecutive failed connects before a worker gives up.
	MaxAttempts      int `yaml:"max_attempts"`
	IdlePollSeconds  int `yaml:"idle_poll_seconds"`
	DedupTTLHours    int `yaml:"dedup_ttl_hours"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_seconds"`
}

// BreakerConfig configures the circuit breaker placed in front of each notification sink.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	OpenSeconds      int `yaml:"open_seconds"`
}

// NotifyConfig describes where Interested leads are announced.
type NotifyConfig struct {
	WebhookURL      string        `yaml:"webhook_url"`
	SlackWebhookURL string        `yaml:"slack_webhook_url"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Mode            string        `yaml:"mode"` // inline | queue
	GuardTTLHours   int           `yaml:"guard_ttl_hours"`
	Breaker         BreakerConfig `yaml:"breaker"`
}

// ClassifierConfig points at an optional pattern table file; the built-in table is used otherwise.
type ClassifierConfig struct {
	PatternsFile string `yaml:"patterns_file"`
}

// TemplateConfig is one reply template. Keywords are pipe-delimited.
type TemplateConfig struct {
	Type     string `yaml:"type"`
	Keywords string `yaml:"keywords"`
	Response string `yaml:"response"`
}

// SMTPConfig is the relay used by the compose endpoint.
type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// OTelConfig enables OTLP trace export.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// OverrideDBFromEnv applies DB_* variables.
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv accepts SERVER_PORT, or PORT as a bare port number.
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
		return
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = ":" + port
	}
}

func OverrideNotifyFromEnv(cfg *NotifyConfig) {
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		cfg.SlackWebhookURL = url
	}
}

// OverrideOTelFromEnv enables export when OTEL_EXPORTER_OTLP_ENDPOINT is set.
func OverrideOTelFromEnv(cfg *OTelConfig) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
		cfg.Enabled = true
	}
}

func OverrideSMTPFromEnv(cfg *SMTPConfig) {
	if addr := os.Getenv("SMTP_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if user := os.Getenv("SMTP_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideAccountsFromEnv fills account n (1-based) from EMAIL_n, PASSWORD_n and IMAP_HOST_n.
// Accounts that only exist in the environment are appended.
func OverrideAccountsFromEnv(accounts []AccountConfig) []AccountConfig {
	for i := 1; ; i++ {
		user := os.Getenv(fmt.Sprintf("EMAIL_%d", i))
		password := os.Getenv(fmt.Sprintf("PASSWORD_%d", i))
		host := os.Getenv(fmt.Sprintf("IMAP_HOST_%d", i))
		if user == "" && password == "" && host == "" {
			return accounts
		}
		if i > len(accounts) {
			accounts = append(accounts, AccountConfig{Port: 993, TLS: true})
		}
		acct := &accounts[i-1]
		if user != "" {
			acct.User = user
		}
		if password != "" {
			acct.Password = password
		}
		if host != "" {
			acct.Host = host
		}
	}
}
