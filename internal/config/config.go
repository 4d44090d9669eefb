package config

import (
	"log"

	"github.com/zwy923/onebox/pkg/config"
)

type Config struct {
	Server     config.ServerConfig     `yaml:"server"`
	Store      config.StoreConfig      `yaml:"store"`
	DB         config.DBConfig         `yaml:"db"`
	Redis      config.RedisConfig      `yaml:"redis"`
	MQ         config.MQConfig         `yaml:"mq"`
	JWT        config.JWTConfig        `yaml:"jwt"`
	Accounts   []config.AccountConfig  `yaml:"accounts"`
	Listener   config.ListenerConfig   `yaml:"listener"`
	Notify     config.NotifyConfig     `yaml:"notify"`
	Classifier config.ClassifierConfig `yaml:"classifier"`
	Templates  []config.TemplateConfig `yaml:"templates"`
	SMTP       config.SMTPConfig       `yaml:"smtp"`
	OTel       config.OTelConfig       `yaml:"otel"`
}

// Load reads the layered config selected by CONFIG_ENV / CONFIG_DIR and exits on failure.
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom decodes the layered config, applies environment overrides and fills defaults.
func LoadFrom(env, configDir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, configDir, &cfg); err != nil {
		return nil, err
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideNotifyFromEnv(&cfg.Notify)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideOTelFromEnv(&cfg.OTel)
	cfg.Accounts = config.OverrideAccountsFromEnv(cfg.Accounts)

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":3000"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "postgres"
	}
	if c.Listener.ReconnectInitialSeconds <= 0 {
		c.Listener.ReconnectInitialSeconds = 1
	}
	if c.Listener.ReconnectMaxSeconds <= 0 {
		c.Listener.ReconnectMaxSeconds = 60
	}
	if c.Listener.MaxAttempts <= 0 {
		c.Listener.MaxAttempts = 10
	}
	if c.Listener.IdlePollSeconds <= 0 {
		c.Listener.IdlePollSeconds = 60
	}
	if c.Listener.DedupTTLHours <= 0 {
		c.Listener.DedupTTLHours = 72
	}
	if c.Listener.FetchTimeoutSecs <= 0 {
		c.Listener.FetchTimeoutSecs = 60
	}
	if c.Notify.TimeoutSeconds <= 0 {
		c.Notify.TimeoutSeconds = 10
	}
	if c.Notify.Mode == "" {
		c.Notify.Mode = "inline"
	}
	if c.Notify.GuardTTLHours <= 0 {
		c.Notify.GuardTTLHours = 24 * 30
	}
	if c.Notify.Breaker.SuccessThreshold <= 0 {
		c.Notify.Breaker.SuccessThreshold = 1
	}
	if c.Notify.Breaker.OpenSeconds <= 0 {
		c.Notify.Breaker.OpenSeconds = 30
	}
	for i := range c.Accounts {
		if c.Accounts[i].Port == 0 {
			c.Accounts[i].Port = 993
		}
	}
}
