package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kuhlman-labs/mgit/internal/bulk"
	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/gitexec"
	"github.com/kuhlman-labs/mgit/internal/mask"
	"github.com/kuhlman-labs/mgit/internal/provider"
	"github.com/kuhlman-labs/mgit/internal/provider/factory"
)

type bulkFlags struct {
	account     string
	concurrency int
	updateMode  string
	include     []string
	exclude     []string
	dryRun      bool
}

func (f *bulkFlags) register(cmd *cobra.Command, withUpdateMode bool) {
	cmd.Flags().StringVar(&f.account, "provider", "", "account name from the config file")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "parallel git processes (default from config, max 50)")
	if withUpdateMode {
		cmd.Flags().StringVar(&f.updateMode, "update-mode", "", "existing directories: skip, pull, or force")
	}
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "only these repository names (comma-separated)")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "skip these repository names (comma-separated)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report planned outcomes without executing")
}

// runBulk is the shared body of clone-all and pull-all. fixedMode pins the
// update mode (pull-all); empty means resolve from flag then config.
func (a *app) runBulk(ctx context.Context, flags bulkFlags, fixedMode config.UpdateMode, projectArg, target string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	mode := fixedMode
	if mode == "" {
		raw := flags.updateMode
		if raw == "" {
			raw = cfg.Global.UpdateMode
		}
		mode, err = config.ParseUpdateMode(raw)
		if err != nil {
			return err
		}
	}

	concurrency := flags.concurrency
	if concurrency <= 0 {
		concurrency = cfg.Global.Concurrency
	}

	name, acct, err := cfg.Account(flags.account)
	if err != nil {
		return err
	}
	// The reporter exists before the provider so rate-limit waits hit during
	// repository collection surface as notices too.
	reporter := bulk.NewReporter()
	defer func() {
		reporter.Close()
		for range reporter.Events() {
		}
	}()

	p, err := factory.New(name, acct, cfg.Global, func(wait time.Duration) {
		reporter.Notice(fmt.Sprintf("rate limited; resuming in %s", wait.Round(time.Second)))
	}, a.logger)
	if err != nil {
		return err
	}
	defer p.Close()

	repos, err := a.collectRepos(ctx, p, acct, projectArg)
	if err != nil {
		return err
	}
	if len(repos) == 0 {
		fmt.Fprintln(os.Stderr, "no repositories found")
		return nil
	}

	barDone := make(chan struct{})
	go consumeProgress(reporter.Events(), len(repos), barDone)

	runner := gitexec.NewRunner(time.Duration(cfg.Global.CloneTimeoutSeconds)*time.Second, a.logger)
	engine := bulk.NewEngine(p, runner, reporter, a.logger)

	result, runErr := engine.Run(ctx, repos, bulk.Options{
		Target:      target,
		UpdateMode:  mode,
		Concurrency: concurrency,
		Include:     flags.include,
		Exclude:     flags.exclude,
		DryRun:      flags.dryRun,
		ConfirmForce: func(repo provider.Repository, dest string) bool {
			return a.confirm(fmt.Sprintf("delete %s and re-clone %s?", dest, repo.Name))
		},
	})

	reporter.Close()
	<-barDone
	printSummary(result, flags.dryRun)

	if runErr != nil {
		return runErr
	}
	if result.Failed > 0 {
		return errPartialFailure
	}
	return nil
}

// collectRepos resolves the organization and project scope, then drains the
// provider's repository stream.
func (a *app) collectRepos(ctx context.Context, p provider.Provider, acct config.AccountConfig, projectArg string) ([]provider.Repository, error) {
	org, err := resolveOrg(ctx, p, acct.DefaultOrg)
	if err != nil {
		return nil, err
	}

	var projects []provider.Project
	switch {
	case !p.SupportsProjects(), projectArg == "-":
		if !p.SupportsProjects() && projectArg != "" && projectArg != "-" {
			a.logger.Warn("provider has no project tier; ignoring project argument",
				"provider", p.Kind(), "project", projectArg)
		}
		projects, err = p.ListProjects(ctx, org)
		if err != nil {
			return nil, err
		}
	default:
		projName := projectArg
		if projName == "" {
			projName = acct.DefaultProject
		}
		if projName == "" {
			return nil, fmt.Errorf("%w: %s requires a project (or \"-\" for all projects)",
				provider.ErrInvalidArgument, p.Kind())
		}
		projects = []provider.Project{{Name: projName, Organization: org.Name}}
	}

	var repos []provider.Repository
	for _, proj := range projects {
		proj := proj
		for res := range p.ListRepositories(ctx, org, &proj, nil) {
			if res.Err != nil {
				return nil, res.Err
			}
			repos = append(repos, res.Repo)
		}
		if ctx.Err() != nil {
			return nil, context.Canceled
		}
	}
	return repos, nil
}

// resolveOrg picks the organization to operate on: the configured default,
// or the account's sole organization.
func resolveOrg(ctx context.Context, p provider.Provider, defaultOrg string) (provider.Organization, error) {
	orgs, err := p.ListOrganizations(ctx)
	if err != nil {
		return provider.Organization{}, err
	}
	if defaultOrg != "" {
		for _, org := range orgs {
			if strings.EqualFold(org.Name, defaultOrg) {
				return org, nil
			}
		}
		return provider.Organization{}, fmt.Errorf("%w: organization %q not visible to this account",
			provider.ErrInvalidArgument, defaultOrg)
	}
	if len(orgs) == 1 {
		return orgs[0], nil
	}
	names := make([]string, 0, len(orgs))
	for _, org := range orgs {
		names = append(names, org.Name)
	}
	return provider.Organization{}, fmt.Errorf("%w: account has %d organizations (%s); set default_org",
		provider.ErrInvalidArgument, len(orgs), strings.Join(names, ", "))
}

// consumeProgress drives the progress bar off the engine's event stream.
func consumeProgress(events <-chan bulk.Event, total int, done chan<- struct{}) {
	defer close(done)

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("processing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
	for ev := range events {
		switch ev.Type {
		case bulk.EventProgress:
			bar.Describe(fmt.Sprintf("%s %s", ev.Phase, ev.Repo.Name))
		case bulk.EventNotice:
			fmt.Fprintf(os.Stderr, "%s\n", ev.Reason)
		case bulk.EventCompleted:
			_ = bar.Add(1)
			if ev.Outcome == bulk.OutcomeFailed {
				fmt.Fprintf(os.Stderr, "failed: %s: %s\n", ev.Repo.Name, mask.Secrets(ev.Reason))
			}
		}
	}
	_ = bar.Finish()
}

func printSummary(result *bulk.Result, dryRun bool) {
	if result == nil {
		return
	}
	label := "done"
	if dryRun {
		label = "dry-run"
	}
	fmt.Printf("%s: %d cloned, %d pulled, %d overwritten, %d skipped, %d failed (%.1fs)\n",
		label,
		result.Cloned,
		result.Pulled,
		result.ForceOverwritten,
		result.SkippedExisting+result.SkippedDisabled+result.SkippedFiltered,
		result.Failed,
		result.Duration.Seconds())
}

func newCloneAllCmd(a *app) *cobra.Command {
	var flags bulkFlags
	cmd := &cobra.Command{
		Use:   "clone-all <project> <path>",
		Short: "Clone every repository of a project into a directory",
		Long: `Clone every repository of a project into a directory.

Use "-" as the project to clone all projects of the organization. Providers
without a project tier (GitHub) ignore the project argument.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBulk(cmd.Context(), flags, "", args[0], args[1])
		},
	}
	flags.register(cmd, true)
	return cmd
}

func newPullAllCmd(a *app) *cobra.Command {
	var flags bulkFlags
	cmd := &cobra.Command{
		Use:   "pull-all <project> <path>",
		Short: "Update previously cloned repositories, cloning any that are missing",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBulk(cmd.Context(), flags, config.UpdatePull, args[0], args[1])
		},
	}
	flags.register(cmd, false)
	return cmd
}
