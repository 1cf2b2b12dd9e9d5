// Package provider defines the capability set every hosting platform adapter
// implements, plus the shared repository model, error taxonomy, and retry
// behavior the adapters build on.
package provider

import (
	"context"
	"time"
)

// Kind identifies a hosting platform.
type Kind string

const (
	KindAzureDevOps Kind = "azuredevops"
	KindGitHub      Kind = "github"
	KindBitbucket   Kind = "bitbucket"
)

// Organization is a top-level grouping on a provider: an ADO organization,
// a GitHub org or user namespace, or a Bitbucket workspace.
type Organization struct {
	Name string
	URL  string
	Kind Kind
	// IsUser marks GitHub personal accounts modeled as organizations.
	IsUser bool
}

// Project is the optional middle tier. Providers without one return a single
// synthetic project per organization; Synthetic marks it so path building and
// query matching can treat it opaquely.
type Project struct {
	Name         string
	Organization string
	Synthetic    bool
}

// Repository is an immutable description of one remote repository.
type Repository struct {
	Name          string
	CloneURL      string
	SSHURL        string
	DefaultBranch string
	IsDisabled    bool
	IsPrivate     bool
	Size          int64 // bytes; 0 when the provider does not report one
	Provider      Kind
	Account       string
	Organization  string
	Project       string
	// ProjectSynthetic is true when Project is a placeholder for a provider
	// without a project tier. Synthetic names never appear in on-disk paths.
	ProjectSynthetic bool
}

// RepoFilters narrows a repository listing. Fields a provider cannot honor
// are applied client-side on the stream.
type RepoFilters struct {
	Language        string
	IncludeArchived bool
	Topics          []string
}

// RepoResult is one element of a repository stream.
type RepoResult struct {
	Repo Repository
	Err  error
}

// RateLimit describes the provider's published quota, when it has one.
type RateLimit struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Provider is the uniform capability set the engines consume. Adapters must
// tolerate concurrent calls.
type Provider interface {
	// Kind returns the platform this adapter talks to.
	Kind() Kind

	// Name returns the configured account name for this adapter instance.
	Name() string

	// Authenticate verifies the credential. Idempotent; fails with ErrAuth,
	// ErrNetwork, or ErrConfig.
	Authenticate(ctx context.Context) error

	// TestConnection is a lightweight probe. It never fails on bad
	// credentials; use Authenticate for that signal.
	TestConnection(ctx context.Context) bool

	// ListOrganizations enumerates the organizations visible to the account.
	ListOrganizations(ctx context.Context) ([]Organization, error)

	// ListProjects enumerates projects in org. Providers without a project
	// tier return a single synthetic project.
	ListProjects(ctx context.Context, org Organization) ([]Project, error)

	// ListRepositories streams repositories, paginating internally. The
	// channel is closed after the last item, on error (delivered as the
	// final RepoResult), or when ctx is cancelled. project may be nil for
	// providers that support it; ADO requires one.
	ListRepositories(ctx context.Context, org Organization, project *Project, filters *RepoFilters) <-chan RepoResult

	// GetRepository looks up a single repository. Returns (nil, nil) when
	// the repository does not exist.
	GetRepository(ctx context.Context, org Organization, project *Project, name string) (*Repository, error)

	// AuthenticatedCloneURL embeds the credential into the repository's
	// clone URL. The result must never be logged unmasked.
	AuthenticatedCloneURL(repo Repository) (string, error)

	// RateLimitInfo reports remaining quota, or nil when the provider
	// publishes none.
	RateLimitInfo(ctx context.Context) *RateLimit

	// SupportsProjects reports whether the platform has a real project tier.
	SupportsProjects() bool

	// Close releases HTTP resources.
	Close() error
}
