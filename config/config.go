package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. CONTRACTSYNC_ESIGN_API_TOKEN
const EnvPrefix = "CONTRACTSYNC"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Auth    AuthConfig    `yaml:"auth"`
	Users   []User        `yaml:"users" validate:"dive"`
	ESign   ESignConfig   `yaml:"esign"`
	Store   StoreConfig   `yaml:"store"`
	Archive ArchiveConfig `yaml:"archive"`
	Import  ImportConfig  `yaml:"import"`
}

type ServerConfig struct {
	Port               int `yaml:"port" validate:"min=1,max=65535"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" validate:"min=0"` // 0 disables
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type AuthConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpireHours int    `yaml:"token_expire_hours" validate:"min=1"`
}

// User is an operator allowed to call the import endpoints
type User struct {
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password" validate:"required"`
	Role     string `yaml:"role"`
}

// ESignConfig configures the e-signature provider API and webhook verification
type ESignConfig struct {
	APIURL         string `yaml:"api_url" validate:"required,url"`
	APIToken       string `yaml:"api_token"`
	UserEmail      string `yaml:"user_email"`
	SignKey        string `yaml:"sign_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN         string `yaml:"dsn" validate:"required_unless=Driver memory"`
	MaxSyncLogs int    `yaml:"max_sync_logs" validate:"min=0"` // memory driver only, 0 = unlimited
	SkipMigrate bool   `yaml:"skip_migrate"`                   // serve won't apply migrations on start
}

// ArchiveConfig enables raw webhook payload archiving to MinIO
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" validate:"required_if=Enabled true"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket" validate:"required_if=Enabled true"`
	UseSSL    bool   `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

type ImportConfig struct {
	Concurrency     int `yaml:"concurrency" validate:"min=1,max=16"`
	DefaultPageSize int `yaml:"default_page_size" validate:"min=1,max=500"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := presetConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.applyEnv(newEnvReader())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// presetConfig holds defaults for options where an explicit 0 is meaningful;
// yaml only overwrites them when the key is present
func presetConfig() Config {
	return Config{
		Server: ServerConfig{RateLimitPerMinute: 100},
		Store:  StoreConfig{MaxSyncLogs: 1000},
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Auth.TokenExpireHours == 0 {
		c.Auth.TokenExpireHours = 24
	}
	if c.ESign.APIURL == "" {
		c.ESign.APIURL = "https://api.oneflow.com/v1"
	}
	if c.ESign.TimeoutSeconds == 0 {
		c.ESign.TimeoutSeconds = 30
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "webhooks"
	}
	if c.Import.Concurrency == 0 {
		c.Import.Concurrency = 1
	}
	if c.Import.DefaultPageSize == 0 {
		c.Import.DefaultPageSize = 50
	}
}

func newEnvReader() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv lets secrets and the DSN come from the environment instead of the file
func (c *Config) applyEnv(v *viper.Viper) {
	overrides := map[string]*string{
		"esign.api_token":    &c.ESign.APIToken,
		"esign.user_email":   &c.ESign.UserEmail,
		"esign.sign_key":     &c.ESign.SignKey,
		"auth.jwt_secret":    &c.Auth.JWTSecret,
		"store.dsn":          &c.Store.DSN,
		"archive.access_key": &c.Archive.AccessKey,
		"archive.secret_key": &c.Archive.SecretKey,
	}
	for key, dst := range overrides {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
}

// Validate checks the struct tags and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if len(c.Users) > 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("invalid config: auth.jwt_secret is required when users are configured")
	}
	return nil
}

// FindUser finds a user by username
func (c *Config) FindUser(username string) *User {
	for i := range c.Users {
		if c.Users[i].Username == username {
			return &c.Users[i]
		}
	}
	return nil
}
