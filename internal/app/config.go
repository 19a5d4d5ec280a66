package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/receiverbot/core/config"
	coredatabase "github.com/m3rciful/receiverbot/core/database"
	"github.com/m3rciful/receiverbot/internal/domain"
	"github.com/m3rciful/receiverbot/internal/proxy"
)

// ProviderConfig holds the authentication provider credentials.
type ProviderConfig struct {
	AppID              int    `yaml:"app_id" envconfig:"PROVIDER_APP_ID"`
	AppHash            string `yaml:"app_hash" envconfig:"PROVIDER_APP_HASH"`
	SessionsDir        string `yaml:"sessions_dir" envconfig:"PROVIDER_SESSIONS_DIR"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds"`
	ReportWaitSeconds  int    `yaml:"report_wait_seconds"`
}

// PolicyDefaults seed bot_settings on first boot.
type PolicyDefaults struct {
	UseProxy       bool `yaml:"use_proxy"`
	UseChangeBio   bool `yaml:"use_change_bio"`
	UseCheckReport bool `yaml:"use_check_report"`
	UseLogCLI      bool `yaml:"use_log_cli"`
}

// Policy converts the defaults to a domain policy.
func (d PolicyDefaults) Policy() domain.Policy {
	return domain.Policy{
		UseProxy:       d.UseProxy,
		UseChangeBio:   d.UseChangeBio,
		UseCheckReport: d.UseCheckReport,
		UseLogCLI:      d.UseLogCLI,
	}
}

// OnboardingConfig tunes the onboarding flow.
type OnboardingConfig struct {
	StepTimeoutMinutes int            `yaml:"step_timeout_minutes" envconfig:"ONBOARDING_STEP_TIMEOUT_MINUTES"`
	Password2FA        string         `yaml:"password_2fa" envconfig:"ONBOARDING_PASSWORD_2FA"`
	PasswordHint       string         `yaml:"password_hint" envconfig:"ONBOARDING_PASSWORD_HINT"`
	Bio                string         `yaml:"bio"`
	DevicesFile        string         `yaml:"devices_file"`
	ProxiesFile        string         `yaml:"proxies_file"`
	ProbeAddr          string         `yaml:"probe_addr"`
	ProbeTimeoutMS     int            `yaml:"probe_timeout_ms"`
	Defaults           PolicyDefaults `yaml:"defaults"`
}

// StepTTL is the step timeout as a duration.
func (o OnboardingConfig) StepTTL() time.Duration {
	return time.Duration(o.StepTimeoutMinutes) * time.Minute
}

// ProbeTimeout is the proxy probe timeout as a duration.
func (o OnboardingConfig) ProbeTimeout() time.Duration {
	return time.Duration(o.ProbeTimeoutMS) * time.Millisecond
}

// AccessConfig controls who may use the bot. Admin IDs live under telegram.admin_ids.
type AccessConfig struct {
	RequireApproval bool `yaml:"require_approval" envconfig:"ACCESS_REQUIRE_APPROVAL"`
	// ForceJoin maps channel usernames to the links shown to users who left them.
	ForceJoin map[string]string `yaml:"force_join"`
}

// SweeperConfig tunes the timeout sweeper.
type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" envconfig:"SWEEPER_INTERVAL_SECONDS"`
	Workers         int `yaml:"workers"`
}

// RedisConfig enables the cross-instance sweep lock when Addr is set.
type RedisConfig struct {
	Addr           string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password       string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB             int    `yaml:"db" envconfig:"REDIS_DB"`
	LockKey        string `yaml:"lock_key"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// Config is the full application configuration. The core sections sit at the
// top level of the YAML file.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database   coredatabase.Config `yaml:"database"`
	Provider   ProviderConfig      `yaml:"provider"`
	Onboarding OnboardingConfig    `yaml:"onboarding"`
	Access     AccessConfig        `yaml:"access"`
	Sweeper    SweeperConfig       `yaml:"sweeper"`
	Redis      RedisConfig         `yaml:"redis"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config { return &c.Config }

// LoadConfig reads path, applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	if c.Provider.AppID <= 0 || strings.TrimSpace(c.Provider.AppHash) == "" {
		return errors.New("provider.app_id and provider.app_hash are required")
	}
	if strings.TrimSpace(c.Provider.SessionsDir) == "" {
		c.Provider.SessionsDir = "sessions"
	}
	if c.Provider.DialTimeoutSeconds <= 0 {
		c.Provider.DialTimeoutSeconds = 10
	}

	o := &c.Onboarding
	if o.StepTimeoutMinutes < 0 {
		return fmt.Errorf("onboarding.step_timeout_minutes must be >= 0, got %d", o.StepTimeoutMinutes)
	}
	if o.StepTimeoutMinutes == 0 {
		o.StepTimeoutMinutes = 5
	}
	if strings.TrimSpace(o.DevicesFile) == "" {
		return errors.New("onboarding.devices_file is required")
	}
	if o.Defaults.UseProxy && strings.TrimSpace(o.ProxiesFile) == "" {
		return errors.New("onboarding.proxies_file is required when defaults.use_proxy is set")
	}
	if o.ProbeAddr == "" {
		o.ProbeAddr = proxy.DefaultProbeAddr
	}
	if o.ProbeTimeoutMS <= 0 {
		o.ProbeTimeoutMS = 3000
	}

	if len(c.Access.ForceJoin) > 0 {
		joins := make(map[string]string, len(c.Access.ForceJoin))
		for name, link := range c.Access.ForceJoin {
			name = strings.TrimPrefix(strings.TrimSpace(name), "@")
			if name == "" {
				return errors.New("access.force_join has an empty channel name")
			}
			if strings.TrimSpace(link) == "" {
				link = "https://t.me/" + name
			}
			joins[name] = link
		}
		c.Access.ForceJoin = joins
	}

	if c.Sweeper.IntervalSeconds <= 0 {
		c.Sweeper.IntervalSeconds = 60
	}
	if c.Sweeper.Workers <= 0 {
		c.Sweeper.Workers = 4
	}

	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "receiverbot:sweeper"
	}
	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = 2 * c.Sweeper.IntervalSeconds
	}
	return nil
}
