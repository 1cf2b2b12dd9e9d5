// Package config resolves the mgit configuration file and environment into a
// typed, validated, immutable value. Resolution happens once at startup;
// nothing downstream reads files or the environment again.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// UpdateMode is the policy applied when a destination directory exists.
type UpdateMode string

const (
	UpdateSkip  UpdateMode = "skip"
	UpdatePull  UpdateMode = "pull"
	UpdateForce UpdateMode = "force"
)

// ParseUpdateMode validates a user-supplied update mode.
func ParseUpdateMode(s string) (UpdateMode, error) {
	switch UpdateMode(strings.ToLower(s)) {
	case UpdateSkip, UpdatePull, UpdateForce:
		return UpdateMode(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("%w: unknown update mode %q (want skip, pull, or force)", provider.ErrInvalidArgument, s)
	}
}

// Config is the resolved configuration tree.
type Config struct {
	Global    GlobalConfig             `mapstructure:"global"`
	Providers map[string]AccountConfig `mapstructure:"providers"`
}

// GlobalConfig holds cross-command defaults.
type GlobalConfig struct {
	Concurrency    int    `mapstructure:"concurrency"`
	UpdateMode     string `mapstructure:"update_mode"`
	DefaultAccount string `mapstructure:"default_account"`
	// CloneTimeoutSeconds bounds each git subprocess.
	CloneTimeoutSeconds int `mapstructure:"clone_timeout_seconds"`
	// HTTPTimeoutSeconds bounds each provider API call.
	HTTPTimeoutSeconds int `mapstructure:"http_timeout_seconds"`
}

// AccountConfig is one named provider account. Credential fields support
// `${NAME}` environment interpolation.
type AccountConfig struct {
	Kind    string `mapstructure:"kind"`
	BaseURL string `mapstructure:"base_url"`

	// Azure DevOps: organization URL + personal access token.
	PAT string `mapstructure:"pat"`

	// GitHub: token, optionally an enterprise API URL.
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`

	// Bitbucket Cloud: username + app password.
	Username    string `mapstructure:"username"`
	AppPassword string `mapstructure:"app_password"`

	DefaultOrg     string `mapstructure:"default_org"`
	DefaultProject string `mapstructure:"default_project"`

	// Credential text as it appeared in the file, recorded before ${NAME}
	// interpolation and env overrides. Save writes these back so a rewrite
	// never replaces an env reference with the live secret, and never
	// persists a secret that only exists in the environment.
	rawPAT         string
	rawToken       string
	rawUsername    string
	rawAppPassword string
	rawRecorded    bool
}

// DefaultConfigDir returns the directory holding the config file.
func DefaultConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mgit")
	}
	return "."
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load resolves configuration from path (or the default locations when path
// is empty) and the environment. A missing file is not an error; accounts
// may be defined entirely through environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	file, err := locateConfigFile(path)
	if err != nil {
		return nil, err
	}

	setDefaults(v)

	if file != "" {
		if err := checkPermissions(file); err != nil {
			return nil, err
		}
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", provider.ErrConfig, file, err)
		}
	}

	v.SetEnvPrefix("MGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]AccountConfig{}
	}

	cfg.snapshotRawCredentials()
	cfg.interpolate()
	cfg.applyEnvOverrides(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func locateConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %v", provider.ErrConfig, err)
		}
		return path, nil
	}
	for _, candidate := range []string{DefaultConfigPath(), "config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

// checkPermissions refuses config files readable by group or other. The file
// holds credentials.
func checkPermissions(file string) error {
	info, err := os.Stat(file)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("%w: %s has permissions %04o, want owner-only (0600)", provider.ErrConfig, file, perm)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("global.concurrency", 5)
	v.SetDefault("global.update_mode", string(UpdateSkip))
	v.SetDefault("global.clone_timeout_seconds", 600)
	v.SetDefault("global.http_timeout_seconds", 30)
}

// snapshotRawCredentials records credential fields as the file spelled them,
// before interpolation or env overrides touch them.
func (c *Config) snapshotRawCredentials() {
	for name, acct := range c.Providers {
		acct.rawPAT = acct.PAT
		acct.rawToken = acct.Token
		acct.rawUsername = acct.Username
		acct.rawAppPassword = acct.AppPassword
		acct.rawRecorded = true
		c.Providers[name] = acct
	}
}

// interpolate expands ${NAME} in credential fields.
func (c *Config) interpolate() {
	expand := func(s string) string {
		if !strings.Contains(s, "${") {
			return s
		}
		return os.Expand(s, os.Getenv)
	}
	for name, acct := range c.Providers {
		acct.PAT = expand(acct.PAT)
		acct.Token = expand(acct.Token)
		acct.Username = expand(acct.Username)
		acct.AppPassword = expand(acct.AppPassword)
		c.Providers[name] = acct
	}
}

// envOverrides maps provider kind fields to the well-known and legacy
// environment variable names, checked in order.
var envOverrides = map[provider.Kind]map[string][]string{
	provider.KindAzureDevOps: {
		"pat": {"MGIT_AZUREDEVOPS_PAT", "AZURE_DEVOPS_EXT_PAT"},
		"url": {"MGIT_AZUREDEVOPS_URL"},
	},
	provider.KindGitHub: {
		"token":   {"MGIT_GITHUB_TOKEN", "GITHUB_TOKEN"},
		"api_url": {"MGIT_GITHUB_API_URL"},
	},
	provider.KindBitbucket: {
		"username":     {"MGIT_BITBUCKET_USERNAME", "BITBUCKET_USERNAME"},
		"app_password": {"MGIT_BITBUCKET_APP_PASSWORD", "BITBUCKET_APP_PASSWORD"},
	},
}

// applyEnvOverrides lets environment variables win over file values for every
// account of the matching kind. getenv is injected for tests.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	lookup := func(names []string) string {
		for _, n := range names {
			if v := getenv(n); v != "" {
				return v
			}
		}
		return ""
	}

	for name, acct := range c.Providers {
		fields, ok := envOverrides[provider.Kind(strings.ToLower(acct.Kind))]
		if !ok {
			continue
		}
		if v := lookup(fields["pat"]); v != "" {
			acct.PAT = v
		}
		if v := lookup(fields["url"]); v != "" {
			acct.BaseURL = v
		}
		if v := lookup(fields["token"]); v != "" {
			acct.Token = v
		}
		if v := lookup(fields["api_url"]); v != "" {
			acct.APIURL = v
		}
		if v := lookup(fields["username"]); v != "" {
			acct.Username = v
		}
		if v := lookup(fields["app_password"]); v != "" {
			acct.AppPassword = v
		}
		c.Providers[name] = acct
	}
}

func (c *Config) validate() error {
	if c.Global.Concurrency < 1 {
		return fmt.Errorf("%w: global.concurrency must be >= 1", provider.ErrConfig)
	}
	if _, err := ParseUpdateMode(c.Global.UpdateMode); err != nil {
		return fmt.Errorf("%w: global.update_mode %q", provider.ErrConfig, c.Global.UpdateMode)
	}
	if c.Global.DefaultAccount != "" {
		if _, ok := c.Providers[c.Global.DefaultAccount]; !ok {
			return fmt.Errorf("%w: default_account %q is not a configured provider", provider.ErrConfig, c.Global.DefaultAccount)
		}
	}

	for name, acct := range c.Providers {
		kind := provider.Kind(strings.ToLower(acct.Kind))
		switch kind {
		case provider.KindAzureDevOps:
			if acct.BaseURL == "" {
				return fmt.Errorf("%w: account %q: azuredevops requires base_url (organization URL)", provider.ErrConfig, name)
			}
			if acct.PAT == "" {
				return fmt.Errorf("%w: account %q: azuredevops requires pat", provider.ErrConfig, name)
			}
		case provider.KindGitHub:
			if acct.Token == "" {
				return fmt.Errorf("%w: account %q: github requires token", provider.ErrConfig, name)
			}
		case provider.KindBitbucket:
			if acct.Username == "" || acct.AppPassword == "" {
				return fmt.Errorf("%w: account %q: bitbucket requires username and app_password", provider.ErrConfig, name)
			}
		default:
			return fmt.Errorf("%w: account %q: unknown provider kind %q", provider.ErrConfig, name, acct.Kind)
		}
	}
	return nil
}

// Account returns the named account, or the default account when name is
// empty, or the sole configured account when there is exactly one.
func (c *Config) Account(name string) (string, AccountConfig, error) {
	if name == "" {
		name = c.Global.DefaultAccount
	}
	if name == "" && len(c.Providers) == 1 {
		for n, a := range c.Providers {
			return n, a, nil
		}
	}
	if name == "" {
		return "", AccountConfig{}, fmt.Errorf("%w: no account named and no default_account configured", provider.ErrInvalidArgument)
	}
	acct, ok := c.Providers[name]
	if !ok {
		return "", AccountConfig{}, fmt.Errorf("%w: unknown account %q", provider.ErrInvalidArgument, name)
	}
	return name, acct, nil
}

// AccountNames returns the configured account names in stable order.
func (c *Config) AccountNames() []string {
	names := make([]string, 0, len(c.Providers))
	for n := range c.Providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
