package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// fileConfig mirrors Config with yaml tags for writing. Zero-valued fields
// are omitted so the file stays minimal.
type fileConfig struct {
	Global    fileGlobal             `yaml:"global,omitempty"`
	Providers map[string]fileAccount `yaml:"providers,omitempty"`
}

type fileGlobal struct {
	Concurrency         int    `yaml:"concurrency,omitempty"`
	UpdateMode          string `yaml:"update_mode,omitempty"`
	DefaultAccount      string `yaml:"default_account,omitempty"`
	CloneTimeoutSeconds int    `yaml:"clone_timeout_seconds,omitempty"`
	HTTPTimeoutSeconds  int    `yaml:"http_timeout_seconds,omitempty"`
}

type fileAccount struct {
	Kind           string `yaml:"kind"`
	BaseURL        string `yaml:"base_url,omitempty"`
	PAT            string `yaml:"pat,omitempty"`
	Token          string `yaml:"token,omitempty"`
	APIURL         string `yaml:"api_url,omitempty"`
	Username       string `yaml:"username,omitempty"`
	AppPassword    string `yaml:"app_password,omitempty"`
	DefaultOrg     string `yaml:"default_org,omitempty"`
	DefaultProject string `yaml:"default_project,omitempty"`
}

// Save writes cfg to path with owner-only permissions, creating the parent
// directory as needed. Used by `mgit login` and `mgit config set`.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}

	fc := fileConfig{
		Global: fileGlobal{
			Concurrency:         cfg.Global.Concurrency,
			UpdateMode:          cfg.Global.UpdateMode,
			DefaultAccount:      cfg.Global.DefaultAccount,
			CloneTimeoutSeconds: cfg.Global.CloneTimeoutSeconds,
			HTTPTimeoutSeconds:  cfg.Global.HTTPTimeoutSeconds,
		},
		Providers: map[string]fileAccount{},
	}
	for name, a := range cfg.Providers {
		fa := fileAccount{
			Kind:           a.Kind,
			BaseURL:        a.BaseURL,
			PAT:            a.PAT,
			Token:          a.Token,
			APIURL:         a.APIURL,
			Username:       a.Username,
			AppPassword:    a.AppPassword,
			DefaultOrg:     a.DefaultOrg,
			DefaultProject: a.DefaultProject,
		}
		// Accounts loaded from a file keep the file's credential spelling:
		// ${NAME} references stay references, and secrets injected purely
		// from the environment stay out of the file.
		if a.rawRecorded {
			fa.PAT = a.rawPAT
			fa.Token = a.rawToken
			fa.Username = a.rawUsername
			fa.AppPassword = a.rawAppPassword
		}
		fc.Providers[name] = fa
	}

	data, err := yaml.Marshal(fc)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}

	// Write via a temp file in the same directory, then rename, so a crash
	// never leaves a half-written credentials file.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", provider.ErrConfig, err)
	}
	return nil
}
