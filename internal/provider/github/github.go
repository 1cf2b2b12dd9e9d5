// Package github implements the provider port for GitHub.com and GitHub
// Enterprise Server.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

// pageSize is the per-page item count for all listing calls.
const pageSize = 100

// Provider implements provider.Provider against the GitHub REST API.
type Provider struct {
	account string
	token   string
	apiURL  string
	client  *gogithub.Client
	retryer *provider.Retryer
	logger  *slog.Logger
}

// Options configures the GitHub provider.
type Options struct {
	// Account is the configured account name.
	Account string
	// Token is a classic or fine-grained PAT.
	Token string
	// APIURL is empty for github.com, or the GHES API root
	// (e.g. https://ghe.example.com/api/v3).
	APIURL string
	// HTTPTimeout bounds each API call.
	HTTPTimeout time.Duration
	Retry       provider.RetryConfig
	// OnRateLimit is notified when a call waits out a rate limit.
	OnRateLimit func(wait time.Duration)
	Logger      *slog.Logger
}

// New creates a GitHub provider.
func New(opts Options) (*Provider, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("%w: github token is required", provider.ErrConfig)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = provider.DefaultRetryConfig()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	httpClient.Timeout = opts.HTTPTimeout

	client := gogithub.NewClient(httpClient)
	if opts.APIURL != "" && opts.APIURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(opts.APIURL, opts.APIURL)
		if err != nil {
			return nil, fmt.Errorf("%w: github api_url: %v", provider.ErrConfig, err)
		}
	}

	retryer := provider.NewRetryer(opts.Retry, opts.Logger)
	retryer.OnRateLimit = opts.OnRateLimit

	return &Provider{
		account: opts.Account,
		token:   opts.Token,
		apiURL:  opts.APIURL,
		client:  client,
		retryer: retryer,
		logger:  opts.Logger,
	}, nil
}

func (p *Provider) Kind() provider.Kind { return provider.KindGitHub }

func (p *Provider) Name() string { return p.account }

// SupportsProjects is false: GitHub has no project tier between organization
// and repository.
func (p *Provider) SupportsProjects() bool { return false }

// Authenticate verifies the token by fetching the authenticated user.
func (p *Provider) Authenticate(ctx context.Context) error {
	return p.retryer.Do(ctx, "github.authenticate", func(ctx context.Context) error {
		_, resp, err := p.client.Users.Get(ctx, "")
		return p.wrap("authenticate", resp, err)
	})
}

// TestConnection probes the API root. It reports reachability only; a bad
// credential still counts as a reachable provider.
func (p *Provider) TestConnection(ctx context.Context) bool {
	_, resp, err := p.client.Meta.Zen(ctx)
	if err == nil {
		return true
	}
	// Any HTTP response at all means the endpoint is reachable.
	return resp != nil
}

// ListOrganizations returns the authenticated user (as a user-typed
// organization) followed by every organization the user belongs to.
func (p *Provider) ListOrganizations(ctx context.Context) ([]provider.Organization, error) {
	var orgs []provider.Organization

	user, err := provider.DoWithResult(ctx, p.retryer, "github.get_user", func(ctx context.Context) (*gogithub.User, error) {
		u, resp, err := p.client.Users.Get(ctx, "")
		return u, p.wrap("get_user", resp, err)
	})
	if err != nil {
		return nil, err
	}
	orgs = append(orgs, provider.Organization{
		Name:   user.GetLogin(),
		URL:    user.GetHTMLURL(),
		Kind:   provider.KindGitHub,
		IsUser: true,
	})

	opt := &gogithub.ListOptions{PerPage: pageSize}
	for {
		page, err := provider.DoWithResult(ctx, p.retryer, "github.list_orgs", func(ctx context.Context) (listPage[*gogithub.Organization], error) {
			items, resp, err := p.client.Organizations.List(ctx, "", opt)
			return listPage[*gogithub.Organization]{items, resp}, p.wrap("list_orgs", resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, o := range page.items {
			orgs = append(orgs, provider.Organization{
				Name: o.GetLogin(),
				URL:  o.GetHTMLURL(),
				Kind: provider.KindGitHub,
			})
		}
		if page.resp == nil || page.resp.NextPage == 0 {
			break
		}
		opt.Page = page.resp.NextPage
	}
	return orgs, nil
}

type listPage[T any] struct {
	items []T
	resp  *gogithub.Response
}

// ListProjects returns the single synthetic project GitHub organizations get.
// The placeholder name is the organization itself; it never reaches disk.
func (p *Provider) ListProjects(_ context.Context, org provider.Organization) ([]provider.Project, error) {
	return []provider.Project{{
		Name:         org.Name,
		Organization: org.Name,
		Synthetic:    true,
	}}, nil
}

// ListRepositories streams the organization's repositories one page at a
// time. project is ignored (synthetic tier). Filters for language, archived,
// and topics are honored.
func (p *Provider) ListRepositories(ctx context.Context, org provider.Organization, _ *provider.Project, filters *provider.RepoFilters) <-chan provider.RepoResult {
	out := make(chan provider.RepoResult)

	go func() {
		defer close(out)

		page := 1
		for {
			repos, next, err := p.listPage(ctx, org, page)
			if err != nil {
				select {
				case out <- provider.RepoResult{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			for _, r := range repos {
				if !matchFilters(r, filters) {
					continue
				}
				select {
				case out <- provider.RepoResult{Repo: p.toRepository(r, org)}:
				case <-ctx.Done():
					return
				}
			}
			if next == 0 {
				return
			}
			page = next
		}
	}()

	return out
}

func (p *Provider) listPage(ctx context.Context, org provider.Organization, page int) ([]*gogithub.Repository, int, error) {
	type pageResult struct {
		repos []*gogithub.Repository
		next  int
	}
	res, err := provider.DoWithResult(ctx, p.retryer, "github.list_repos", func(ctx context.Context) (pageResult, error) {
		if org.IsUser {
			opt := &gogithub.RepositoryListByAuthenticatedUserOptions{
				Affiliation: "owner",
				ListOptions: gogithub.ListOptions{Page: page, PerPage: pageSize},
			}
			repos, resp, err := p.client.Repositories.ListByAuthenticatedUser(ctx, opt)
			if err := p.wrap("list_repos", resp, err); err != nil {
				return pageResult{}, err
			}
			return pageResult{repos, resp.NextPage}, nil
		}
		opt := &gogithub.RepositoryListByOrgOptions{
			Type:        "all",
			ListOptions: gogithub.ListOptions{Page: page, PerPage: pageSize},
		}
		repos, resp, err := p.client.Repositories.ListByOrg(ctx, org.Name, opt)
		if err := p.wrap("list_repos", resp, err); err != nil {
			return pageResult{}, err
		}
		return pageResult{repos, resp.NextPage}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return res.repos, res.next, nil
}

// GetRepository looks up one repository; (nil, nil) when it does not exist.
func (p *Provider) GetRepository(ctx context.Context, org provider.Organization, _ *provider.Project, name string) (*provider.Repository, error) {
	r, err := provider.DoWithResult(ctx, p.retryer, "github.get_repo", func(ctx context.Context) (*gogithub.Repository, error) {
		repo, resp, err := p.client.Repositories.Get(ctx, org.Name, name)
		return repo, p.wrap("get_repo", resp, err)
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	repo := p.toRepository(r, org)
	return &repo, nil
}

// AuthenticatedCloneURL embeds the token as URL userinfo:
// https://TOKEN@host/org/repo.git
func (p *Provider) AuthenticatedCloneURL(repo provider.Repository) (string, error) {
	u, err := url.Parse(repo.CloneURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid clone URL: %v", provider.ErrInvalidArgument, err)
	}
	u.User = url.User(p.token)
	return u.String(), nil
}

// RateLimitInfo reports the core REST quota.
func (p *Provider) RateLimitInfo(ctx context.Context) *provider.RateLimit {
	limits, _, err := p.client.RateLimit.Get(ctx)
	if err != nil || limits.GetCore() == nil {
		return nil
	}
	core := limits.GetCore()
	return &provider.RateLimit{
		Remaining: core.Remaining,
		Limit:     core.Limit,
		ResetAt:   core.Reset.Time,
	}
}

// Close releases idle HTTP connections.
func (p *Provider) Close() error {
	p.client.Client().CloseIdleConnections()
	return nil
}

func (p *Provider) toRepository(r *gogithub.Repository, org provider.Organization) provider.Repository {
	return provider.Repository{
		Name:             r.GetName(),
		CloneURL:         r.GetCloneURL(),
		SSHURL:           r.GetSSHURL(),
		DefaultBranch:    r.GetDefaultBranch(),
		IsDisabled:       r.GetArchived() || r.GetDisabled(),
		IsPrivate:        r.GetPrivate(),
		Size:             int64(r.GetSize()) * 1024, // API reports KiB
		Provider:         provider.KindGitHub,
		Account:          p.account,
		Organization:     org.Name,
		Project:          org.Name,
		ProjectSynthetic: true,
	}
}

func matchFilters(r *gogithub.Repository, f *provider.RepoFilters) bool {
	if f == nil {
		return true
	}
	if !f.IncludeArchived && r.GetArchived() {
		return false
	}
	if f.Language != "" && !strings.EqualFold(r.GetLanguage(), f.Language) {
		return false
	}
	for _, want := range f.Topics {
		found := false
		for _, topic := range r.Topics {
			if strings.EqualFold(topic, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// wrap converts go-github errors into the port taxonomy.
func (p *Provider) wrap(operation string, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}

	var rateErr *gogithub.RateLimitError
	if errors.As(err, &rateErr) {
		return &provider.APIError{
			Provider:   provider.KindGitHub,
			Operation:  operation,
			StatusCode: http.StatusTooManyRequests,
			ResetAt:    rateErr.Rate.Reset.Time,
			Err:        fmt.Errorf("%w: %v", provider.ErrRateLimit, err),
		}
	}

	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		apiErr := &provider.APIError{
			Provider:   provider.KindGitHub,
			Operation:  operation,
			StatusCode: http.StatusTooManyRequests,
			Err:        fmt.Errorf("%w: %v", provider.ErrRateLimit, err),
		}
		if abuseErr.RetryAfter != nil {
			apiErr.ResetAt = time.Now().Add(*abuseErr.RetryAfter)
		}
		return apiErr
	}

	var ghErr *gogithub.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		status := ghErr.Response.StatusCode
		// GitHub reports primary rate limiting as 403 with a drained quota.
		if status == http.StatusForbidden && ghErr.Response.Header.Get("X-RateLimit-Remaining") == "0" {
			status = http.StatusTooManyRequests
		}
		return provider.WrapStatus(provider.KindGitHub, operation, status, err)
	}

	if resp != nil {
		return provider.WrapStatus(provider.KindGitHub, operation, resp.StatusCode, err)
	}
	return provider.WrapTransport(provider.KindGitHub, operation, err)
}
