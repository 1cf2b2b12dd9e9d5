// Package azuredevops implements the provider port for Azure DevOps.
package azuredevops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/core"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/git"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// Provider implements provider.Provider against the Azure DevOps REST API.
// One provider instance is bound to one organization, the way a PAT is.
type Provider struct {
	account      string
	organization string
	orgURL       string
	pat          string
	httpTimeout  time.Duration

	connection *azuredevops.Connection
	coreClient core.Client
	gitClient  git.Client
	retryer    *provider.Retryer
	logger     *slog.Logger
}

// Options configures the Azure DevOps provider.
type Options struct {
	// Account is the configured account name.
	Account string
	// OrganizationURL is https://dev.azure.com/<org> or a legacy
	// <org>.visualstudio.com URL.
	OrganizationURL string
	// PAT is a personal access token with Code (read) scope.
	PAT string
	// HTTPTimeout bounds each API call; the SDK connection itself carries
	// no deadline.
	HTTPTimeout time.Duration
	Retry       provider.RetryConfig
	// OnRateLimit is notified when a call waits out a rate limit.
	OnRateLimit func(wait time.Duration)
	Logger      *slog.Logger
}

// New creates an Azure DevOps provider.
func New(opts Options) (*Provider, error) {
	if opts.OrganizationURL == "" {
		return nil, fmt.Errorf("%w: azure devops organization URL is required", provider.ErrConfig)
	}
	if opts.PAT == "" {
		return nil, fmt.Errorf("%w: azure devops personal access token is required", provider.ErrConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = provider.DefaultRetryConfig()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}

	orgURL, orgName, err := normalizeOrgURL(opts.OrganizationURL)
	if err != nil {
		return nil, err
	}

	connection := azuredevops.NewPatConnection(orgURL, opts.PAT)

	ctx := context.Background()
	coreClient, err := core.NewClient(ctx, connection)
	if err != nil {
		return nil, fmt.Errorf("%w: creating core client: %v", provider.ErrConfig, err)
	}
	gitClient, err := git.NewClient(ctx, connection)
	if err != nil {
		return nil, fmt.Errorf("%w: creating git client: %v", provider.ErrConfig, err)
	}

	retryer := provider.NewRetryer(opts.Retry, opts.Logger)
	retryer.OnRateLimit = opts.OnRateLimit

	return &Provider{
		account:      opts.Account,
		organization: orgName,
		orgURL:       orgURL,
		pat:          opts.PAT,
		httpTimeout:  opts.HTTPTimeout,
		connection:   connection,
		coreClient:   coreClient,
		gitClient:    gitClient,
		retryer:      retryer,
		logger:       opts.Logger,
	}, nil
}

// callTimeout bounds one HTTP attempt. Each retry gets a fresh deadline.
func (p *Provider) callTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.httpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.httpTimeout)
}

// normalizeOrgURL converts legacy <org>.visualstudio.com URLs to the
// dev.azure.com form and extracts the organization name.
func normalizeOrgURL(raw string) (orgURL, orgName string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("%w: malformed organization URL %q", provider.ErrConfig, raw)
	}

	if strings.HasSuffix(u.Host, ".visualstudio.com") {
		orgName = strings.TrimSuffix(u.Host, ".visualstudio.com")
		return "https://dev.azure.com/" + orgName, orgName, nil
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "", "", fmt.Errorf("%w: organization URL %q has no organization segment", provider.ErrConfig, raw)
	}
	orgName = parts[0]
	return fmt.Sprintf("https://%s/%s", u.Host, orgName), orgName, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindAzureDevOps }

func (p *Provider) Name() string { return p.account }

// SupportsProjects is true: the project tier is mandatory on Azure DevOps.
func (p *Provider) SupportsProjects() bool { return true }

// Authenticate verifies the PAT with a minimal project listing.
func (p *Provider) Authenticate(ctx context.Context) error {
	return p.retryer.Do(ctx, "azuredevops.authenticate", func(ctx context.Context) error {
		ctx, cancel := p.callTimeout(ctx)
		defer cancel()
		top := 1
		_, err := p.coreClient.GetProjects(ctx, core.GetProjectsArgs{Top: &top})
		return p.wrap("authenticate", err)
	})
}

// TestConnection reports whether the organization endpoint is reachable.
// Rejected credentials still mean a reachable provider.
func (p *Provider) TestConnection(ctx context.Context) bool {
	ctx, cancel := p.callTimeout(ctx)
	defer cancel()
	top := 1
	_, err := p.coreClient.GetProjects(ctx, core.GetProjectsArgs{Top: &top})
	if err == nil {
		return true
	}
	wrapped := p.wrap("test_connection", err)
	return provider.IsAuth(wrapped) || errors.Is(wrapped, provider.ErrPermission)
}

// ListOrganizations returns the single organization the PAT is bound to.
func (p *Provider) ListOrganizations(_ context.Context) ([]provider.Organization, error) {
	return []provider.Organization{{
		Name: p.organization,
		URL:  p.orgURL,
		Kind: provider.KindAzureDevOps,
	}}, nil
}

// ListProjects enumerates the organization's projects, following the
// continuation token until exhausted.
func (p *Provider) ListProjects(ctx context.Context, org provider.Organization) ([]provider.Project, error) {
	if !strings.EqualFold(org.Name, p.organization) {
		return nil, fmt.Errorf("%w: account %q is bound to organization %q, not %q",
			provider.ErrInvalidArgument, p.account, p.organization, org.Name)
	}

	var projects []provider.Project
	var continuation *int

	for {
		page, err := provider.DoWithResult(ctx, p.retryer, "azuredevops.list_projects", func(ctx context.Context) (*core.GetProjectsResponseValue, error) {
			ctx, cancel := p.callTimeout(ctx)
			defer cancel()
			res, err := p.coreClient.GetProjects(ctx, core.GetProjectsArgs{ContinuationToken: continuation})
			return res, p.wrap("list_projects", err)
		})
		if err != nil {
			return nil, err
		}
		if page == nil {
			break
		}
		for _, proj := range page.Value {
			if proj.Name == nil {
				continue
			}
			projects = append(projects, provider.Project{
				Name:         *proj.Name,
				Organization: p.organization,
			})
		}
		if page.ContinuationToken == "" {
			break
		}
		token, err := strconv.Atoi(page.ContinuationToken)
		if err != nil {
			break
		}
		continuation = &token
	}

	return projects, nil
}

// ListRepositories streams every repository in the project. The project is
// mandatory; Azure DevOps scopes repositories under projects.
func (p *Provider) ListRepositories(ctx context.Context, org provider.Organization, project *provider.Project, filters *provider.RepoFilters) <-chan provider.RepoResult {
	out := make(chan provider.RepoResult)

	go func() {
		defer close(out)

		if project == nil || project.Name == "" {
			out <- provider.RepoResult{Err: fmt.Errorf("%w: azure devops requires a project to list repositories", provider.ErrInvalidArgument)}
			return
		}
		if !strings.EqualFold(org.Name, p.organization) {
			out <- provider.RepoResult{Err: fmt.Errorf("%w: account %q is bound to organization %q, not %q",
				provider.ErrInvalidArgument, p.account, p.organization, org.Name)}
			return
		}

		repos, err := provider.DoWithResult(ctx, p.retryer, "azuredevops.list_repos", func(ctx context.Context) (*[]git.GitRepository, error) {
			ctx, cancel := p.callTimeout(ctx)
			defer cancel()
			res, err := p.gitClient.GetRepositories(ctx, git.GetRepositoriesArgs{Project: &project.Name})
			return res, p.wrap("list_repos", err)
		})
		if err != nil {
			select {
			case out <- provider.RepoResult{Err: err}:
			case <-ctx.Done():
			}
			return
		}
		if repos == nil {
			return
		}

		// Disabled repos still flow downstream; skipping them is the
		// engine's decision, not the adapter's.
		_ = filters
		for _, r := range *repos {
			repo := p.toRepository(r, project.Name)
			select {
			case out <- provider.RepoResult{Repo: repo}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// GetRepository looks up one repository; (nil, nil) when it does not exist.
func (p *Provider) GetRepository(ctx context.Context, org provider.Organization, project *provider.Project, name string) (*provider.Repository, error) {
	if project == nil || project.Name == "" {
		return nil, fmt.Errorf("%w: azure devops requires a project", provider.ErrInvalidArgument)
	}

	r, err := provider.DoWithResult(ctx, p.retryer, "azuredevops.get_repo", func(ctx context.Context) (*git.GitRepository, error) {
		ctx, cancel := p.callTimeout(ctx)
		defer cancel()
		res, err := p.gitClient.GetRepository(ctx, git.GetRepositoryArgs{
			RepositoryId: &name,
			Project:      &project.Name,
		})
		return res, p.wrap("get_repo", err)
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	repo := p.toRepository(*r, project.Name)
	return &repo, nil
}

// AuthenticatedCloneURL embeds the PAT as URL userinfo:
// https://PAT@dev.azure.com/org/project/_git/repo
func (p *Provider) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid clone URL: %v", provider.ErrInvalidArgument, err)
	}
	u.User = url.User(p.pat)
	return u.String(), nil
}

// RateLimitInfo returns nil; Azure DevOps does not publish a quota.
func (p *Provider) RateLimitInfo(_ context.Context) *provider.RateLimit {
	return nil
}

// Close is a no-op; the SDK manages its own transport.
func (p *Provider) Close() error { return nil }

func (p *Provider) toRepository(r git.GitRepository, projectName string) provider.Repository {
	repo := provider.Repository{
		Provider:     provider.KindAzureDevOps,
		Account:      p.account,
		Organization: p.organization,
		Project:      projectName,
	}
	if r.Name != nil {
		repo.Name = *r.Name
	}
	if r.RemoteUrl != nil {
		repo.CloneURL = *r.RemoteUrl
	}
	if r.SshUrl != nil {
		repo.SSHURL = *r.SshUrl
	}
	if r.DefaultBranch != nil {
		repo.DefaultBranch = strings.TrimPrefix(*r.DefaultBranch, "refs/heads/")
	}
	if r.IsDisabled != nil {
		repo.IsDisabled = *r.IsDisabled
	}
	if r.Size != nil {
		repo.Size = int64(*r.Size)
	}
	if r.Project != nil && r.Project.Visibility != nil {
		repo.IsPrivate = *r.Project.Visibility == core.ProjectVisibilityValues.Private
	}
	return repo
}

// wrap converts SDK errors into the port taxonomy.
func (p *Provider) wrap(operation string, err error) error {
	if err == nil {
		return nil
	}

	var wrapped azuredevops.WrappedError
	if errors.As(err, &wrapped) && wrapped.StatusCode != nil {
		// The SDK surfaces Retry-After in the message only, so 429s fall
		// back to the retryer's own backoff schedule.
		return provider.WrapStatus(provider.KindAzureDevOps, operation, *wrapped.StatusCode, err)
	}

	return provider.WrapTransport(provider.KindAzureDevOps, operation, err)
}
