package kamo

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type NotifyConfig struct {
	// RFC5424 syslog receiver (tcp). Empty disables the syslog notifier.
	SyslogAddr string `yaml:"syslog_addr"`
	// AMQP broker URL. Empty disables the AMQP notifier. Prefer the
	// KAMO_AMQP_URL environment variable when the URL carries credentials.
	AMQPURL   string `yaml:"amqp_url"`
	AMQPQueue string `yaml:"amqp_queue"`
}

type FileConfig struct {
	DB                  string       `yaml:"db"`
	BaseURL             string       `yaml:"base_url"`
	PollIntervalMinutes int          `yaml:"poll_interval_minutes"`
	Timezone            string       `yaml:"timezone"`
	ListenAddr          string       `yaml:"listen_addr"`
	Debug               bool         `yaml:"debug"`
	// Fallback area IDs for the first cycle when the /area feed is
	// unreachable and the local cache is still empty.
	Areas  []int        `yaml:"areas"`
	Notify NotifyConfig `yaml:"notify"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

func (c *FileConfig) ApplyDefaults() {
	if strings.TrimSpace(c.DB) == "" {
		c.DB = "data/kamo_load.db"
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://kamofamilyload.kamopower.com/api"
	}
	if c.PollIntervalMinutes == 0 {
		c.PollIntervalMinutes = 5
	}
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "America/Chicago"
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":8080"
	}
	if strings.TrimSpace(c.Notify.AMQPQueue) == "" {
		c.Notify.AMQPQueue = "kamo.import.alerts"
	}
}

func (c *FileConfig) Validate() error {
	if !ValidInterval(c.PollIntervalMinutes) {
		return fmt.Errorf("poll_interval_minutes must be one of 5, 10, 15, 30, got %d", c.PollIntervalMinutes)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location is only valid after Validate.
func (c *FileConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Secrets are environment-only and never read from the config file.
type Secrets struct {
	APIKey  string
	AMQPURL string
}

// EnvSecrets reads KAMO_API_KEY and KAMO_AMQP_URL from the environment.
func EnvSecrets() Secrets {
	v := viper.New()
	v.SetEnvPrefix("kamo")
	v.AutomaticEnv()
	return Secrets{
		APIKey:  v.GetString("api_key"),
		AMQPURL: v.GetString("amqp_url"),
	}
}
