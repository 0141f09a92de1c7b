// Package config resolves server settings from ONIX_* environment variables
// and an optional config file. Environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Setting keys. The environment form is ONIX_ plus the upper-cased key.
const (
	KeyDatabaseURL    = "database_url"
	KeyHTTPAddr       = "http_addr"
	KeyGRPCAddr       = "grpc_addr"
	KeyNATSURL        = "nats_url"
	KeyAuthToken      = "auth_token"
	KeyLogLevel       = "log_level"
	KeySyncInterval   = "sync_interval"
	KeySyncS3Bucket   = "sync_s3_bucket"
	KeySyncS3Endpoint = "sync_s3_endpoint"
	KeySyncS3Region   = "sync_s3_region"
	KeySyncS3Key      = "sync_s3_key"
	KeySyncGitRepo    = "sync_git_repo"
	KeySyncGitFile    = "sync_git_file"
	KeySyncGitBranch  = "sync_git_branch"
)

type Config struct {
	DatabaseURL string // empty selects the in-memory store
	HTTPAddr    string // default ":8080"
	GRPCAddr    string // default ":9090"
	NATSURL     string // empty disables events
	AuthToken   string // empty disables auth
	LogLevel    slog.Level

	// Sync settings
	SyncInterval   time.Duration // default 3m; 0 disables
	SyncS3Bucket   string        // enables S3 when set
	SyncS3Endpoint string        // custom endpoint, e.g. MinIO
	SyncS3Region   string        // default "us-east-1"
	SyncS3Key      string        // default "onix/snapshot.jsonl"
	SyncGitRepo    string        // enables git when set; path to a clone
	SyncGitFile    string        // default "onix.jsonl"
	SyncGitBranch  string        // default "main"
}

// SyncEnabled reports whether any snapshot destination is configured.
func (c *Config) SyncEnabled() bool {
	return c.SyncInterval > 0 && (c.SyncS3Bucket != "" || c.SyncGitRepo != "")
}

// Load reads file (TOML, YAML or JSON by extension) when it is non-empty,
// falling back to $ONIX_CONFIG, then overlays the environment.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("onix")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyHTTPAddr, ":8080")
	v.SetDefault(KeyGRPCAddr, ":9090")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeySyncInterval, "3m")
	v.SetDefault(KeySyncS3Region, "us-east-1")
	v.SetDefault(KeySyncS3Key, "onix/snapshot.jsonl")
	v.SetDefault(KeySyncGitFile, "onix.jsonl")
	v.SetDefault(KeySyncGitBranch, "main")

	if file == "" {
		file = os.Getenv("ONIX_CONFIG")
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	c := &Config{
		DatabaseURL:    v.GetString(KeyDatabaseURL),
		HTTPAddr:       v.GetString(KeyHTTPAddr),
		GRPCAddr:       v.GetString(KeyGRPCAddr),
		NATSURL:        v.GetString(KeyNATSURL),
		AuthToken:      v.GetString(KeyAuthToken),
		SyncS3Bucket:   v.GetString(KeySyncS3Bucket),
		SyncS3Endpoint: v.GetString(KeySyncS3Endpoint),
		SyncS3Region:   v.GetString(KeySyncS3Region),
		SyncS3Key:      v.GetString(KeySyncS3Key),
		SyncGitRepo:    v.GetString(KeySyncGitRepo),
		SyncGitFile:    v.GetString(KeySyncGitFile),
		SyncGitBranch:  v.GetString(KeySyncGitBranch),
	}

	var err error
	if c.LogLevel, err = ParseLogLevel(v.GetString(KeyLogLevel)); err != nil {
		return nil, err
	}
	if s := v.GetString(KeySyncInterval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", KeySyncInterval, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("%s: must not be negative", KeySyncInterval)
		}
		c.SyncInterval = d
	}
	return c, nil
}

var errLogLevel = errors.New("log_level must be debug, info, warn or error")

// ParseLogLevel accepts debug, info, warn and error, in any case.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w, got %q", errLogLevel, s)
	}
	return l, nil
}
