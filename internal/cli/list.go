package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
	"github.com/kuhlman-labs/mgit/internal/provider/factory"
	"github.com/kuhlman-labs/mgit/internal/query"
)

func newListCmd(a *app) *cobra.Command {
	var (
		accounts []string
		limit    int
		format   string
	)

	cmd := &cobra.Command{
		Use:   "list <org/project/repo>",
		Short: "Search repositories across all configured accounts",
		Long: `Search repositories across all configured accounts.

The query has three segments separated by slashes; "*" matches any non-empty
value and combines with literals ("acme-*"). Matching is case-insensitive.
Providers without a project tier match any second segment.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("%w: unknown format %q (want table or json)", provider.ErrInvalidArgument, format)
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			engine := query.NewEngine(cfg, func(name string, acct config.AccountConfig) (provider.Provider, error) {
				return factory.New(name, acct, cfg.Global, func(wait time.Duration) {
					fmt.Fprintf(os.Stderr, "rate limited; resuming in %s\n", wait.Round(time.Second))
				}, a.logger)
			}, a.logger)

			stream, err := engine.Run(cmd.Context(), args[0], query.Options{
				Accounts: accounts,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			var repos []provider.Repository
			for repo := range stream {
				repos = append(repos, repo)
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}

			if format == "json" {
				return writeJSON(repos)
			}
			writeTable(repos)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&accounts, "provider", nil, "restrict to these account names")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many results (0 = unlimited)")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

type listEntry struct {
	Provider     string `json:"provider"`
	Account      string `json:"account"`
	Organization string `json:"organization"`
	Project      string `json:"project,omitempty"`
	Name         string `json:"name"`
	CloneURL     string `json:"clone_url"`
	Private      bool   `json:"private"`
	Disabled     bool   `json:"disabled,omitempty"`
}

func toEntry(r provider.Repository) listEntry {
	e := listEntry{
		Provider:     string(r.Provider),
		Account:      r.Account,
		Organization: r.Organization,
		Project:      r.Project,
		Name:         r.Name,
		CloneURL:     r.CloneURL,
		Private:      r.IsPrivate,
		Disabled:     r.IsDisabled,
	}
	if r.ProjectSynthetic {
		e.Project = ""
	}
	return e
}

func writeJSON(repos []provider.Repository) error {
	entries := make([]listEntry, 0, len(repos))
	for _, r := range repos {
		entries = append(entries, toEntry(r))
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeTable(repos []provider.Repository) {
	if len(repos) == 0 {
		fmt.Println("no repositories matched")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Provider", "Account", "Organization", "Project", "Repository")
	for _, r := range repos {
		e := toEntry(r)
		project := e.Project
		if project == "" {
			project = "-"
		}
		table.Append(e.Provider, e.Account, e.Organization, project, e.Name)
	}
	table.Render()
	fmt.Printf("%d repositories\n", len(repos))
}
