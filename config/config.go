// Package config resolves process settings from flags, SCAN_* environment
// variables and an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "SCAN"

type Config struct {
	Address         string
	Port            int
	Root            string
	Verbosity       int
	Field           string
	DefaultExt      string
	MaxFileSize     int64
	RateLimit       int
	RateWindow      time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

func (c Config) Validate() error {
	var errs []error
	if net.ParseIP(c.Address) == nil {
		errs = append(errs, fmt.Errorf("address %q is not an IP address", c.Address))
	}
	if c.Port < 1 || c.Port > math.MaxUint16 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	if strings.ContainsAny(c.DefaultExt, `/\`) {
		errs = append(errs, fmt.Errorf("default extension %q contains a path separator", c.DefaultExt))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate limit %d is negative", c.RateLimit))
	}
	if c.RateLimit > 0 && c.RateWindow <= 0 {
		errs = append(errs, errors.New("rate window must be positive when rate limiting"))
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("shutdown timeout must not be negative"))
	}
	return errors.Join(errs...)
}

// NewCommand builds the root command. run receives the resolved settings
// once flags, environment and .env have been merged.
func NewCommand(run func(ctx context.Context, cfg Config) error) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:          "scan-receiver",
		Short:        "Simple HTTP server that accepts file uploads and writes them to disk",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadEnvFile(v.GetString("env-file"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringP("address", "a", "127.0.0.1", "IP address to listen on")
	flags.IntP("port", "p", 8080, "port to listen on")
	flags.StringP("root", "r", ".", "directory uploaded files are written to")
	flags.CountP("verbosity", "v", "increase log verbosity (repeatable)")
	flags.String("field", "", "only store file parts sent under this form field")
	flags.String("default-ext", "pdf", "extension for files uploaded without a usable name")
	flags.String("max-file-size", "0", "largest file accepted, e.g. 512MB (0 for no limit)")
	flags.Int("rate-limit", 0, "max requests per client per window (0 disables)")
	flags.Duration("rate-window", 10*time.Second, "rate limit window")
	flags.Duration("shutdown-timeout", 10*time.Second, "time allowed for connections to close on shutdown; unfinished uploads are discarded")
	flags.String("env-file", ".env", "optional dotenv file with SCAN_* variables")

	bind(v, flags)
	return cmd
}

func bind(v *viper.Viper, flags *pflag.FlagSet) {
	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("binding flags: %v", err))
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads the merged settings out of v.
func Load(v *viper.Viper) (Config, error) {
	maxFileSize, err := ParseSize(v.GetString("max-file-size"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Address:         v.GetString("address"),
		Port:            v.GetInt("port"),
		Root:            v.GetString("root"),
		Verbosity:       v.GetInt("verbosity"),
		Field:           v.GetString("field"),
		DefaultExt:      strings.TrimPrefix(v.GetString("default-ext"), "."),
		MaxFileSize:     maxFileSize,
		RateLimit:       v.GetInt("rate-limit"),
		RateWindow:      v.GetDuration("rate-window"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseSize accepts human sizes such as "512MB" or "1GiB". Empty and "0"
// mean no limit.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("size %q too large", s)
	}
	return int64(n), nil
}
