package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
	"github.com/kuhlman-labs/mgit/internal/provider/factory"
)

func newLoginCmd(a *app) *cobra.Command {
	var (
		kind           string
		name           string
		baseURL        string
		pat            string
		token          string
		apiURL         string
		username       string
		appPassword    string
		defaultOrg     string
		defaultProject string
		setDefault     bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Validate a credential and save it as a named account",
		Long: `Validate a credential and save it as a named account.

The credential is verified against the provider before anything is written;
a rejected credential leaves the config file untouched.

  mgit login --provider azuredevops --url https://dev.azure.com/acme --pat ...
  mgit login --provider github --token ghp_...
  mgit login --provider bitbucket --username dev --app-password ATBB...`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind == "" {
				return fmt.Errorf("%w: --provider is required", provider.ErrInvalidArgument)
			}
			if name == "" {
				name = kind
			}

			acct := config.AccountConfig{
				Kind:           kind,
				BaseURL:        baseURL,
				PAT:            pat,
				Token:          token,
				APIURL:         apiURL,
				Username:       username,
				AppPassword:    appPassword,
				DefaultOrg:     defaultOrg,
				DefaultProject: defaultProject,
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			// Validate before saving; a bad credential must not land on disk.
			p, err := factory.New(name, acct, cfg.Global, nil, a.logger)
			if err != nil {
				return err
			}
			defer p.Close()
			if err := p.Authenticate(cmd.Context()); err != nil {
				return fmt.Errorf("credential rejected: %w", err)
			}

			cfg.Providers[name] = acct
			if setDefault || cfg.Global.DefaultAccount == "" {
				cfg.Global.DefaultAccount = name
			}
			if err := config.Save(cfg, a.opts.configPath); err != nil {
				return err
			}
			fmt.Printf("account %q saved\n", name)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "provider", "", "provider kind: azuredevops, github, or bitbucket")
	cmd.Flags().StringVar(&name, "name", "", "account name (default: the provider kind)")
	cmd.Flags().StringVar(&baseURL, "url", "", "organization URL (azuredevops)")
	cmd.Flags().StringVar(&pat, "pat", "", "personal access token (azuredevops)")
	cmd.Flags().StringVar(&token, "token", "", "access token (github)")
	cmd.Flags().StringVar(&apiURL, "api-url", "", "API root for GitHub Enterprise")
	cmd.Flags().StringVar(&username, "username", "", "username (bitbucket)")
	cmd.Flags().StringVar(&appPassword, "app-password", "", "app password (bitbucket)")
	cmd.Flags().StringVar(&defaultOrg, "default-org", "", "default organization or workspace")
	cmd.Flags().StringVar(&defaultProject, "default-project", "", "default project")
	cmd.Flags().BoolVar(&setDefault, "set-default", false, "make this the default account")
	return cmd
}
