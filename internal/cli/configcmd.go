package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or modify the configuration file",
	}
	cmd.AddCommand(newConfigShowCmd(a), newConfigSetCmd(a))
	return cmd
}

func newConfigShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("global:")
			fmt.Printf("  concurrency: %d\n", cfg.Global.Concurrency)
			fmt.Printf("  update_mode: %s\n", cfg.Global.UpdateMode)
			if cfg.Global.DefaultAccount != "" {
				fmt.Printf("  default_account: %s\n", cfg.Global.DefaultAccount)
			}
			fmt.Printf("  clone_timeout_seconds: %d\n", cfg.Global.CloneTimeoutSeconds)
			fmt.Printf("  http_timeout_seconds: %d\n", cfg.Global.HTTPTimeoutSeconds)

			fmt.Println("providers:")
			for _, name := range cfg.AccountNames() {
				acct := cfg.Providers[name]
				fmt.Printf("  %s:\n", name)
				fmt.Printf("    kind: %s\n", acct.Kind)
				if acct.BaseURL != "" {
					fmt.Printf("    base_url: %s\n", acct.BaseURL)
				}
				if acct.APIURL != "" {
					fmt.Printf("    api_url: %s\n", acct.APIURL)
				}
				if acct.Username != "" {
					fmt.Printf("    username: %s\n", acct.Username)
				}
				for field, value := range map[string]string{
					"pat": acct.PAT, "token": acct.Token, "app_password": acct.AppPassword,
				} {
					if value != "" {
						fmt.Printf("    %s: %s\n", field, redactCredential(value))
					}
				}
				if acct.DefaultOrg != "" {
					fmt.Printf("    default_org: %s\n", acct.DefaultOrg)
				}
				if acct.DefaultProject != "" {
					fmt.Printf("    default_project: %s\n", acct.DefaultProject)
				}
			}
			return nil
		},
	}
}

// redactCredential keeps the last four characters for recognizability.
func redactCredential(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return "********" + value[len(value)-4:]
}

func newConfigSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value and save the file",
		Long: `Set a configuration value and save the file.

Supported keys:
  global.concurrency
  global.update_mode
  global.default_account
  global.clone_timeout_seconds
  global.http_timeout_seconds
  providers.<name>.default_org
  providers.<name>.default_project`,
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := applySet(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg, a.opts.configPath); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func applySet(cfg *config.Config, key, value string) error {
	switch key {
	case "global.concurrency":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: concurrency must be a positive integer", provider.ErrInvalidArgument)
		}
		cfg.Global.Concurrency = n
	case "global.update_mode":
		mode, err := config.ParseUpdateMode(value)
		if err != nil {
			return err
		}
		cfg.Global.UpdateMode = string(mode)
	case "global.default_account":
		if _, ok := cfg.Providers[value]; !ok {
			return fmt.Errorf("%w: unknown account %q", provider.ErrInvalidArgument, value)
		}
		cfg.Global.DefaultAccount = value
	case "global.clone_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: clone_timeout_seconds must be a positive integer", provider.ErrInvalidArgument)
		}
		cfg.Global.CloneTimeoutSeconds = n
	case "global.http_timeout_seconds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("%w: http_timeout_seconds must be a positive integer", provider.ErrInvalidArgument)
		}
		cfg.Global.HTTPTimeoutSeconds = n
	default:
		parts := strings.Split(key, ".")
		if len(parts) != 3 || parts[0] != "providers" {
			return fmt.Errorf("%w: unknown key %q", provider.ErrInvalidArgument, key)
		}
		acct, ok := cfg.Providers[parts[1]]
		if !ok {
			return fmt.Errorf("%w: unknown account %q", provider.ErrInvalidArgument, parts[1])
		}
		switch parts[2] {
		case "default_org":
			acct.DefaultOrg = value
		case "default_project":
			acct.DefaultProject = value
		default:
			return fmt.Errorf("%w: unknown key %q (credentials are set via mgit login)", provider.ErrInvalidArgument, key)
		}
		cfg.Providers[parts[1]] = acct
	}
	return nil
}
