// Package config provides functionality for managing configuration options
// for the client shell and the sandbox using command-line flags, an optional
// JSON config file and environment variables.
//
// Precedence, lowest first: flag defaults and values, the JSON file, the
// environment.
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Options holds the configuration values for the client shell.
type Options struct {
	// APIURL is the base URL of the REST collaborator.
	APIURL string `json:"api_url" env:"API_URL"`

	// PushURL is the websocket endpoint of the push collaborator. When empty
	// it is derived from APIURL.
	PushURL string `json:"push_url" env:"PUSH_URL"`

	// StorePath is the file holding the persisted session.
	StorePath string `json:"store_path" env:"STORE_PATH"`

	// SealKeyFile, when set, names a file whose content keys the encryption
	// of persisted values.
	SealKeyFile string `json:"seal_key_file" env:"SEAL_KEY_FILE"`

	// CAFile is an extra CA certificate to trust, used with the sandbox.
	CAFile string `json:"ca_file" env:"CA_FILE"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Timeout bounds every REST request.
	Timeout time.Duration `json:"-" env:"REQUEST_TIMEOUT"`

	// Config is the path to the JSON config file.
	Config string `json:"-" env:"CONFIG"`
}

// SandboxOptions holds the configuration values for the sandbox collaborator.
type SandboxOptions struct {
	// Addr is the listening address (ip:port).
	Addr string `json:"addr" env:"SERVER_ADDRESS"`

	// JWTSecret signs issued credentials.
	JWTSecret string `json:"jwt_secret" env:"JWT_SECRET"`

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string `json:"cert_file" env:"TLS_CERT"`
	KeyFile  string `json:"key_file" env:"TLS_KEY"`

	// TokenTTL is the lifetime of issued credentials.
	TokenTTL time.Duration `json:"-" env:"TOKEN_TTL"`

	// OTPTTL is the lifetime of a one-time code.
	OTPTTL time.Duration `json:"-" env:"OTP_TTL"`

	// OTPInterval is the minimum spacing of code requests per phone.
	OTPInterval time.Duration `json:"-" env:"OTP_INTERVAL"`

	// AdminName, AdminEmail and AdminPassword describe the admin account
	// created at startup. No admin is seeded without a password.
	AdminName     string `json:"admin_name" env:"ADMIN_NAME"`
	AdminEmail    string `json:"admin_email" env:"ADMIN_EMAIL"`
	AdminPassword string `json:"admin_password" env:"ADMIN_PASSWORD"`

	// LogLevel is the zap level name.
	LogLevel string `json:"log_level" env:"LOG_LEVEL"`

	// Config is the path to the JSON config file.
	Config string `json:"-" env:"CONFIG"`
}

// Parse reads the client options from args, the config file and the
// environment.
func Parse(args []string) (*Options, error) {
	options := &Options{}

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.StringVar(&options.APIURL, "url", "http://localhost:3001", "REST API base URL")
	fs.StringVar(&options.PushURL, "push", "", "push websocket URL (derived from -url when empty)")
	fs.StringVar(&options.StorePath, "store", "session.json", "path to the persisted session file")
	fs.StringVar(&options.SealKeyFile, "seal-key", "", "path to a key file used to encrypt the session file")
	fs.StringVar(&options.CAFile, "ca", "", "path to an extra CA certificate")
	fs.StringVar(&options.LogLevel, "log-level", "error", "log level")
	fs.DurationVar(&options.Timeout, "timeout", 10*time.Second, "REST request timeout")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := load(options, &options.Config); err != nil {
		return nil, err
	}

	if options.PushURL == "" {
		push, err := DerivePushURL(options.APIURL)
		if err != nil {
			return nil, err
		}
		options.PushURL = push
	}
	return options, nil
}

// ParseSandbox reads the sandbox options from args, the config file and the
// environment.
func ParseSandbox(args []string) (*SandboxOptions, error) {
	options := &SandboxOptions{}

	fs := flag.NewFlagSet("sandbox", flag.ContinueOnError)
	fs.StringVar(&options.Addr, "a", "localhost:3001", "run on ip:port server")
	fs.StringVar(&options.JWTSecret, "jwt-secret", "sandbox-secret", "credential signing secret")
	fs.StringVar(&options.CertFile, "cert", "", "TLS certificate (PEM)")
	fs.StringVar(&options.KeyFile, "key", "", "TLS private key (PEM)")
	fs.DurationVar(&options.TokenTTL, "token-ttl", 7*24*time.Hour, "credential lifetime")
	fs.DurationVar(&options.OTPTTL, "otp-ttl", 5*time.Minute, "one-time code lifetime")
	fs.DurationVar(&options.OTPInterval, "otp-interval", 30*time.Second, "minimum spacing of code requests per phone")
	fs.StringVar(&options.AdminName, "admin-name", "Admin", "seeded admin display name")
	fs.StringVar(&options.AdminEmail, "admin-email", "admin@carthago.tn", "seeded admin email")
	fs.StringVar(&options.AdminPassword, "admin-password", "", "seeded admin password")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&options.Config, "config", "sandbox.json", "path to config file")
	fs.StringVar(&options.Config, "c", "sandbox.json", "path to config file (shorthand)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := load(options, &options.Config); err != nil {
		return nil, err
	}
	return options, nil
}

// TLS reports whether both certificate and key are configured.
func (o *SandboxOptions) TLS() bool {
	return o.CertFile != "" && o.KeyFile != ""
}

// load applies the JSON config file, if present, and then the environment.
func load(options any, configPath *string) error {
	if p := os.Getenv("CONFIG"); p != "" {
		*configPath = p
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return fmt.Errorf("error while reading config file: %w", err)
		default:
			if err := json.Unmarshal(data, options); err != nil {
				return fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(options); err != nil {
		return fmt.Errorf("error while parsing environment: %w", err)
	}
	return nil
}

// DerivePushURL turns an http(s) API base URL into the ws(s) push endpoint.
func DerivePushURL(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}
