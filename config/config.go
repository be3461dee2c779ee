package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// DefaultCredentialsResolver is the reserved resolver name meaning "no custom
// resolver, use the default AWS credential chain".
const DefaultCredentialsResolver = "default"

const (
	minRoleSessionDuration = 15 * time.Minute
	maxRoleSessionDuration = 12 * time.Hour
)

// Config is the session configuration handed to credential resolver factories.
type Config struct {
	Log      LogConfig
	S3       S3Config
	Resolver ResolverConfig
}

type LogConfig struct {
	Level  slog.Level
	Format string
}

type S3Config struct {
	// CredentialsResolver names the registered resolver used for every call
	// made by the session.
	CredentialsResolver string
	Region              string
	Endpoint            string
	UsePathStyle        bool
}

type ResolverConfig struct {
	RulesFile           string
	RoleSessionDuration time.Duration
	// BucketRoles maps a bucket name to the role ARN assumed for it.
	BucketRoles map[string]string
	// Properties carries free-form settings for custom resolvers.
	Properties map[string]string
}

// New returns a configuration holding only defaults.
func New() *Config {
	return &Config{
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
		},
		S3: S3Config{
			CredentialsResolver: DefaultCredentialsResolver,
		},
		Resolver: ResolverConfig{
			RoleSessionDuration: time.Hour,
			BucketRoles:         map[string]string{},
			Properties:          map[string]string{},
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("s3.credentials_resolver", DefaultCredentialsResolver)
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.use_path_style", false)
	v.SetDefault("resolver.rules_file", "")
	v.SetDefault("resolver.role_session_duration", time.Hour)
}

// NewViper returns a viper instance carrying the defaults and DIGGER_ prefixed
// environment overrides (DIGGER_S3_CREDENTIALS_RESOLVER, ...). Callers may
// bind command line flags to it before loading.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DIGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads the optional YAML file at path on top of defaults and
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	return LoadViper(NewViper(), path)
}

// LoadViper reads the optional YAML file at path into v and builds the Config.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %v: %v", path, err)
		}
		slog.Debug("Loaded config file", "path", v.ConfigFileUsed())
	}

	return FromViper(v)
}

// FromViper builds a Config out of an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := New()

	level, err := parseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	cfg.Log.Level = level
	cfg.Log.Format = strings.ToLower(v.GetString("log.format"))

	cfg.S3.CredentialsResolver = strings.TrimSpace(v.GetString("s3.credentials_resolver"))
	if cfg.S3.CredentialsResolver == "" {
		cfg.S3.CredentialsResolver = DefaultCredentialsResolver
	}
	cfg.S3.Region = v.GetString("s3.region")
	cfg.S3.Endpoint = v.GetString("s3.endpoint")
	cfg.S3.UsePathStyle = v.GetBool("s3.use_path_style")

	cfg.Resolver.RulesFile = v.GetString("resolver.rules_file")
	cfg.Resolver.RoleSessionDuration = v.GetDuration("resolver.role_session_duration")
	for bucket, role := range v.GetStringMapString("resolver.bucket_roles") {
		cfg.Resolver.BucketRoles[bucket] = role
	}
	for key, value := range v.GetStringMapString("resolver.properties") {
		cfg.Resolver.Properties[key] = value
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q, expected one of debug, info, warn, error", level)
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Log.Format != "text" && c.Log.Format != "json" {
		result = multierror.Append(result, fmt.Errorf("invalid log format %q, expected text or json", c.Log.Format))
	}
	if strings.ContainsAny(c.S3.CredentialsResolver, " \t\n") {
		result = multierror.Append(result, fmt.Errorf("s3.credentials_resolver must not contain whitespace: %q", c.S3.CredentialsResolver))
	}
	if d := c.Resolver.RoleSessionDuration; d != 0 && (d < minRoleSessionDuration || d > maxRoleSessionDuration) {
		result = multierror.Append(result, fmt.Errorf("resolver.role_session_duration must be between %v and %v, got %v", minRoleSessionDuration, maxRoleSessionDuration, d))
	}
	for bucket, role := range c.Resolver.BucketRoles {
		if !strings.HasPrefix(role, "arn:") {
			result = multierror.Append(result, fmt.Errorf("resolver.bucket_roles.%v is not a role ARN: %q", bucket, role))
		}
	}

	return result.ErrorOrNil()
}

// UsesDefaultResolver reports whether the session keeps the default chain.
func (c *Config) UsesDefaultResolver() bool {
	return c.S3.CredentialsResolver == "" || c.S3.CredentialsResolver == DefaultCredentialsResolver
}

// Property returns the resolver property for key, or def when unset. Keys are
// case-insensitive since viper lowercases them.
func (c *Config) Property(key, def string) string {
	if value, ok := c.Resolver.Properties[strings.ToLower(key)]; ok {
		return value
	}
	return def
}
