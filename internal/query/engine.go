package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

const (
	// accountConcurrency bounds how many accounts are queried in parallel.
	accountConcurrency = 5
	// accountBuffer is the per-account stream depth before back-pressure.
	accountBuffer = 64
)

// ProviderFactory builds the adapter for one configured account. Injected so
// tests can substitute stub providers.
type ProviderFactory func(account string, acct config.AccountConfig) (provider.Provider, error)

// Options controls one query run.
type Options struct {
	// Accounts restricts the query to these account names; empty means all.
	Accounts []string
	// Limit stops the query after this many results; 0 means unlimited.
	Limit int
}

// Engine fans a query pattern out across configured accounts and merges the
// matches into one deduplicated stream.
type Engine struct {
	cfg         *config.Config
	newProvider ProviderFactory
	logger      *slog.Logger
}

// NewEngine creates a query engine.
func NewEngine(cfg *config.Config, newProvider ProviderFactory, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, newProvider: newProvider, logger: logger}
}

// Run parses the pattern and streams matching repositories. Invalid patterns
// and unknown account names fail immediately; per-account failures after that
// are logged as warnings and never stop sibling accounts. The returned channel
// closes when every producer is done or the limit is reached.
func (e *Engine) Run(ctx context.Context, rawPattern string, opts Options) (<-chan provider.Repository, error) {
	pattern, err := Parse(rawPattern)
	if err != nil {
		return nil, err
	}

	accounts, err := e.resolveAccounts(opts.Accounts)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.Repository)
	if len(accounts) == 0 {
		e.logger.Warn("no provider accounts configured; query matches nothing", "query", rawPattern)
		close(out)
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	merged := make(chan provider.Repository)

	g := &errgroup.Group{}
	g.SetLimit(accountConcurrency)
	var producers sync.WaitGroup
	for _, name := range accounts {
		name := name
		acct := e.cfg.Providers[name]
		producers.Add(1)
		g.Go(func() error {
			defer producers.Done()
			e.queryAccount(ctx, name, acct, pattern, merged)
			return nil
		})
	}
	go func() {
		producers.Wait()
		close(merged)
	}()

	// Gate: deduplicate and enforce the limit on the single merged stream.
	go func() {
		defer close(out)
		defer cancel()

		seen := make(map[string]struct{})
		emitted := 0
		for repo := range merged {
			key := strings.ToLower(strings.Join([]string{
				string(repo.Provider), repo.Account, repo.Organization, repo.Project, repo.Name,
			}, "/"))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			select {
			case out <- repo:
			case <-ctx.Done():
				// Consumer gave up; drain producers via cancel.
				for range merged {
				}
				return
			}

			emitted++
			if opts.Limit > 0 && emitted >= opts.Limit {
				cancel()
				for range merged {
				}
				return
			}
		}
	}()

	return out, nil
}

func (e *Engine) resolveAccounts(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return e.cfg.AccountNames(), nil
	}
	accounts := make([]string, 0, len(requested))
	for _, name := range requested {
		if _, ok := e.cfg.Providers[name]; !ok {
			return nil, &unknownAccountError{name}
		}
		accounts = append(accounts, name)
	}
	return accounts, nil
}

type unknownAccountError struct{ name string }

func (e *unknownAccountError) Error() string {
	return "unknown account \"" + e.name + "\""
}

func (e *unknownAccountError) Unwrap() error { return provider.ErrInvalidArgument }

// queryAccount walks one account's org/project/repo tree, forwarding matches
// through a bounded per-account buffer into merged.
func (e *Engine) queryAccount(ctx context.Context, name string, acct config.AccountConfig, pattern *Pattern, merged chan<- provider.Repository) {
	local := make(chan provider.Repository, accountBuffer)

	var forward sync.WaitGroup
	forward.Add(1)
	go func() {
		defer forward.Done()
		for repo := range local {
			select {
			case merged <- repo:
			case <-ctx.Done():
				return
			}
		}
	}()
	defer forward.Wait()
	defer close(local)

	p, err := e.newProvider(name, acct)
	if err != nil {
		e.logger.Warn("skipping account: cannot construct provider", "account", name, "error", err)
		return
	}
	defer p.Close()

	// Lazy authentication: the first use of each account is here.
	if err := p.Authenticate(ctx); err != nil {
		e.logger.Warn("skipping account: authentication failed", "account", name, "error", err)
		return
	}

	orgs, err := p.ListOrganizations(ctx)
	if err != nil {
		e.logger.Warn("skipping account: listing organizations failed", "account", name, "error", err)
		return
	}

	for _, org := range orgs {
		if !pattern.MatchOrg(org.Name) {
			continue
		}
		projects, err := p.ListProjects(ctx, org)
		if err != nil {
			e.logger.Warn("listing projects failed", "account", name, "org", org.Name, "error", err)
			continue
		}
		for _, proj := range projects {
			if !pattern.MatchProject(proj) {
				continue
			}
			proj := proj
			for res := range p.ListRepositories(ctx, org, &proj, nil) {
				if res.Err != nil {
					e.logger.Warn("listing repositories failed",
						"account", name, "org", org.Name, "project", proj.Name, "error", res.Err)
					break
				}
				if !pattern.MatchRepo(res.Repo.Name) {
					continue
				}
				select {
				case local <- res.Repo:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}
