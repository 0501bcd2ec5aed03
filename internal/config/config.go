package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	configFileName = "webdl"
	envFileName    = ".env"
	envPrefix      = "WEBDL_"
)

// flagConfig stores the parsed values from the cli flags.
type flagConfig struct {
	urls                   *string
	maxConcurrentDownloads *int
	bucketURL              *string
	destinationDir         *string
	dbPath                 *string
	maxRetries             *int
	userAgent              *string
	restrictNotifications  *bool
	legacyLocalPath        *bool
	metricsAddr            *string
	debug                  *bool
	logFile                *string
}

// Config holds the configuration options for the application.
type Config struct {
	Urls                   []string
	MaxConcurrentDownloads int            `yaml:"maxConcurrentDownloads,omitempty"`
	DBPath                 string         `yaml:"dbPath,omitempty"`
	Debug                  bool           `yaml:"debug,omitempty"`
	LogFile                string         `yaml:"logFile,omitempty"`
	MetricsAddr            string         `yaml:"metricsAddr,omitempty"`
	Storage                *StorageConfig `yaml:"storage,omitempty"`
	HTTP                   *HTTPConfig    `yaml:"http,omitempty"`
	Policy                 *PolicyConfig  `yaml:"policy,omitempty"`
}

// StorageConfig selects where finished downloads are written.
type StorageConfig struct {
	BucketURL      string `yaml:"bucket,omitempty"`
	DestinationDir string `yaml:"dir,omitempty"`
}

// HTTPConfig holds configuration options for HTTP transfers.
type HTTPConfig struct {
	MaxRetries    int           `yaml:"maxRetries,omitempty"`
	RetryDelay    time.Duration `yaml:"retryDelay,omitempty"`
	MaxRedirects  int           `yaml:"maxRedirects,omitempty"`
	UserAgent     string        `yaml:"userAgent,omitempty"`
	SkipTLSVerify bool          `yaml:"skipTlsVerify,omitempty"`
}

// PolicyConfig mirrors the switches a platform download service exposes.
type PolicyConfig struct {
	Disabled              bool `yaml:"disabled,omitempty"`
	RestrictNotifications bool `yaml:"restrictNotifications,omitempty"`
	LegacyLocalPath       bool `yaml:"legacyLocalPath,omitempty"`
}

// GetConfig reads the configuration file and returns a Config struct.
// Values are layered as defaults, then the file, then WEBDL_* variables
// (a .env file in the working directory is loaded first), then CLI flags.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	var cfg Config

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if len(b) > 0 {
		err = yaml.Unmarshal(b, &cfg)
		if err != nil {
			return nil, err
		}
	}

	storageCfg := zeroOr(cfg.Storage, defaults.Storage)
	httpCfg := zeroOr(cfg.HTTP, defaults.HTTP)
	policyCfg := zeroOr(cfg.Policy, defaults.Policy)

	conf := Config{
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		DBPath:                 zeroOr(cfg.DBPath, defaults.DBPath),
		Debug:                  cfg.Debug,
		LogFile:                cfg.LogFile,
		MetricsAddr:            cfg.MetricsAddr,
		Storage: &StorageConfig{
			BucketURL:      zeroOr(storageCfg.BucketURL, defaults.Storage.BucketURL),
			DestinationDir: zeroOr(storageCfg.DestinationDir, defaults.Storage.DestinationDir),
		},
		HTTP: &HTTPConfig{
			MaxRetries:    zeroOr(httpCfg.MaxRetries, defaults.HTTP.MaxRetries),
			RetryDelay:    zeroOr(httpCfg.RetryDelay, defaults.HTTP.RetryDelay),
			MaxRedirects:  zeroOr(httpCfg.MaxRedirects, defaults.HTTP.MaxRedirects),
			UserAgent:     zeroOr(httpCfg.UserAgent, defaults.HTTP.UserAgent),
			SkipTLSVerify: httpCfg.SkipTLSVerify,
		},
		Policy: &PolicyConfig{
			Disabled:              policyCfg.Disabled,
			RestrictNotifications: policyCfg.RestrictNotifications,
			LegacyLocalPath:       policyCfg.LegacyLocalPath,
		},
	}

	if err := conf.applyEnvToConfig(); err != nil {
		return nil, err
	}

	conf.applyFlagsToConfig()

	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &conf, nil
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: maxConcurrentDownloads,
		DBPath:                 defaultDBPath(),
		Storage: &StorageConfig{
			BucketURL:      defaultBucketURL(),
			DestinationDir: destinationDir,
		},
		HTTP: &HTTPConfig{
			MaxRetries:   maxRetries,
			RetryDelay:   retryDelay,
			MaxRedirects: maxRedirects,
			UserAgent:    userAgent,
		},
		Policy: &PolicyConfig{},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}

// applyEnvToConfig loads .env if present and applies WEBDL_* overrides.
// Variables already set in the process win over the .env file.
func (c *Config) applyEnvToConfig() error {
	if err := godotenv.Load(envFileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFileName, err)
	}

	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalidConfig, envPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s%s=%q", ErrInvalidConfig, envPrefix, name, v))
				return
			}
			*dst = b
		}
	}

	num("MAX_CONCURRENT", &c.MaxConcurrentDownloads)
	str("DB_PATH", &c.DBPath)
	boolean("DEBUG", &c.Debug)
	str("LOG_FILE", &c.LogFile)
	str("METRICS_ADDR", &c.MetricsAddr)
	str("BUCKET", &c.Storage.BucketURL)
	str("DOWNLOAD_DIR", &c.Storage.DestinationDir)
	num("MAX_RETRIES", &c.HTTP.MaxRetries)
	str("USER_AGENT", &c.HTTP.UserAgent)
	boolean("DISABLED", &c.Policy.Disabled)
	boolean("RESTRICT_NOTIFICATIONS", &c.Policy.RestrictNotifications)
	boolean("LEGACY_LOCAL_PATH", &c.Policy.LegacyLocalPath)

	return errors.Join(errs...)
}

// applyFlagsToConfig takes the value of the cli flags applied at the start and plugs them into the config.
func (c *Config) applyFlagsToConfig() {
	fc := flagConfig{
		urls:                   flag.String("urls", "", "space separated list of URLs to download"),
		maxConcurrentDownloads: flag.Int("mcd", c.MaxConcurrentDownloads, "max number of downloads that run together"),
		bucketURL:              flag.String("bucket", c.Storage.BucketURL, "bucket URL downloads are written to (file://, s3://, gs://, mem://)"),
		destinationDir:         flag.String("dd", c.Storage.DestinationDir, "directory inside the bucket for new downloads"),
		dbPath:                 flag.String("db", c.DBPath, "path to the download status database"),
		maxRetries:             flag.Int("mr", c.HTTP.MaxRetries, "maximum number of retries before a download fails"),
		userAgent:              flag.String("ua", c.HTTP.UserAgent, "user agent sent with every request"),
		restrictNotifications:  flag.Bool("rn", c.Policy.RestrictNotifications, "reject requests that ask for a completion notification"),
		legacyLocalPath:        flag.Bool("legacy", c.Policy.LegacyLocalPath, "report local file paths for file buckets"),
		metricsAddr:            flag.String("metrics", c.MetricsAddr, "address to serve Prometheus metrics on"),
		debug:                  flag.Bool("debug", c.Debug, "enable debug logging"),
		logFile:                flag.String("log", c.LogFile, "write logs to this file instead of stderr"),
	}

	flag.Parse()

	if fc.urls != nil && strings.TrimSpace(*fc.urls) != "" {
		c.Urls = strings.Fields(*fc.urls)
	}
	c.Urls = append(c.Urls, flag.Args()...)

	c.MaxConcurrentDownloads = *fc.maxConcurrentDownloads
	c.Storage.BucketURL = *fc.bucketURL
	c.Storage.DestinationDir = *fc.destinationDir
	c.DBPath = *fc.dbPath
	c.HTTP.MaxRetries = *fc.maxRetries
	c.HTTP.UserAgent = *fc.userAgent
	c.Policy.RestrictNotifications = *fc.restrictNotifications
	c.Policy.LegacyLocalPath = *fc.legacyLocalPath
	c.MetricsAddr = *fc.metricsAddr
	c.Debug = *fc.debug
	c.LogFile = *fc.logFile
}

func (c *Config) validate() error {
	if c.MaxConcurrentDownloads <= 0 || c.DBPath == "" {
		return ErrInvalidConfig
	}

	if err := c.Storage.validate(); err != nil {
		return err
	}

	return c.HTTP.validate()
}

func (s *StorageConfig) validate() error {
	if s.BucketURL == "" {
		return ErrInvalidConfig
	}

	u, err := url.Parse(s.BucketURL)
	if err != nil || u.Scheme == "" {
		return ErrInvalidConfig
	}

	return nil
}

func (h *HTTPConfig) validate() error {
	if h.MaxRetries < 0 || h.MaxRedirects <= 0 || h.RetryDelay < 0 {
		return ErrInvalidConfig
	}

	return nil
}
