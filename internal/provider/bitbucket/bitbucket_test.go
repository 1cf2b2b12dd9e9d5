package bitbucket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/mgit/internal/mask"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

func newTestProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p, err := New(Options{
		Account:     "bb",
		Username:    "dev",
		AppPassword: "ATBB3xKq9pLmN2vC8dF4hJ7s",
		BaseURL:     baseURL,
		HTTPTimeout: 5 * time.Second,
		Retry: provider.RetryConfig{
			MaxAttempts:    2,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
	})
	require.NoError(t, err)
	return p
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{Username: "dev"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrConfig)
}

func TestListOrganizationsFollowsNextLinks(t *testing.T) {
	var gotAuth string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/workspaces", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		page := r.URL.Query().Get("page")
		resp := map[string]any{
			"values": []map[string]any{
				{"slug": "acme", "name": "Acme"},
			},
			"next": server.URL + "/workspaces?page=2",
		}
		if page == "2" {
			resp = map[string]any{
				"values": []map[string]any{
					{"slug": "acme-labs", "name": "Acme Labs"},
				},
			}
		}
		json.NewEncoder(w).Encode(resp)
	})

	p := newTestProvider(t, server.URL)
	orgs, err := p.ListOrganizations(context.Background())
	require.NoError(t, err)

	require.Len(t, orgs, 2)
	assert.Equal(t, "acme", orgs[0].Name)
	assert.Equal(t, "acme-labs", orgs[1].Name)
	assert.NotEmpty(t, gotAuth, "requests carry Basic auth")
}

func TestListRepositoriesStreamsAndFilters(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/repositories/acme", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "q=", "project scope uses the q parameter")
		json.NewEncoder(w).Encode(map[string]any{
			"values": []map[string]any{
				{
					"name":       "api",
					"slug":       "api",
					"is_private": true,
					"language":   "go",
					"mainbranch": map[string]any{"name": "main"},
					"project":    map[string]any{"key": "PAY", "name": "Pay"},
					"links": map[string]any{
						"clone": []map[string]any{
							{"name": "https", "href": "https://dev@bitbucket.org/acme/api.git"},
							{"name": "ssh", "href": "git@bitbucket.org:acme/api.git"},
						},
					},
				},
				{
					"name":     "legacy",
					"slug":     "legacy",
					"language": "perl",
					"project":  map[string]any{"key": "PAY", "name": "Pay"},
				},
			},
		})
	})

	p := newTestProvider(t, server.URL)
	org := provider.Organization{Name: "acme", Kind: provider.KindBitbucket}
	proj := &provider.Project{Name: "Pay", Organization: "acme"}

	var repos []provider.Repository
	for res := range p.ListRepositories(context.Background(), org, proj, &provider.RepoFilters{Language: "go"}) {
		require.NoError(t, res.Err)
		repos = append(repos, res.Repo)
	}

	require.Len(t, repos, 1, "language filter applies")
	repo := repos[0]
	assert.Equal(t, "api", repo.Name)
	assert.Equal(t, "main", repo.DefaultBranch)
	assert.Equal(t, "Pay", repo.Project)
	assert.True(t, repo.IsPrivate)
	assert.False(t, repo.IsDisabled, "bitbucket has no disabled state")
	assert.Equal(t, "https://bitbucket.org/acme/api.git", repo.CloneURL,
		"stored clone URL is credential-free")
	assert.Equal(t, "git@bitbucket.org:acme/api.git", repo.SSHURL)
}

func TestAuthenticateNotifiesRateLimitWaits(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"username": "dev"})
	})

	var notified []time.Duration
	p, err := New(Options{
		Account:     "bb",
		Username:    "dev",
		AppPassword: "pw",
		BaseURL:     server.URL,
		Retry: provider.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			Multiplier:     1,
		},
		OnRateLimit: func(wait time.Duration) { notified = append(notified, wait) },
	})
	require.NoError(t, err)

	require.NoError(t, p.Authenticate(context.Background()))
	assert.Equal(t, 2, calls)
	assert.Len(t, notified, 1, "each rate-limit wait raises one notification")
}

func TestListRepositoriesEscapesProjectFilter(t *testing.T) {
	var gotQ string
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/repositories/acme", func(w http.ResponseWriter, r *http.Request) {
		gotQ = r.URL.Query().Get("q")
		json.NewEncoder(w).Encode(map[string]any{"values": []map[string]any{}})
	})

	p := newTestProvider(t, server.URL)
	org := provider.Organization{Name: "acme", Kind: provider.KindBitbucket}
	proj := &provider.Project{Name: `He said "hi" \ bye`, Organization: "acme"}

	for res := range p.ListRepositories(context.Background(), org, proj, nil) {
		require.NoError(t, res.Err)
	}

	assert.Equal(t, `project.name="He said \"hi\" \\ bye"`, gotQ,
		"quotes and backslashes are backslash-escaped")
}

func TestGetRepositoryFallsBackToDisplayName(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repositories/acme/my repo":
			// The display name is not the slug.
			http.Error(w, `{"type": "error"}`, http.StatusNotFound)
		case "/repositories/acme":
			json.NewEncoder(w).Encode(map[string]any{
				"values": []map[string]any{
					{"name": "My Repo", "slug": "my-repo"},
				},
			})
		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusInternalServerError)
		}
	})

	p := newTestProvider(t, server.URL)
	repo, err := p.GetRepository(context.Background(), provider.Organization{Name: "acme"}, nil, "My Repo")
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.Equal(t, "My Repo", repo.Name)
}

func TestGetRepositoryNotFoundIsNilNil(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"type": "error"}`, http.StatusNotFound)
	})

	p := newTestProvider(t, server.URL)
	repo, err := p.GetRepository(context.Background(), provider.Organization{Name: "acme"}, nil, "ghost")
	require.NoError(t, err)
	assert.Nil(t, repo)
}

func TestAuthenticateClassifiesRejection(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	})

	p := newTestProvider(t, server.URL)
	err := p.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrAuth)
}

func TestAuthenticatedCloneURLRoundTrip(t *testing.T) {
	p := newTestProvider(t, "https://api.bitbucket.org/2.0")
	repo := provider.Repository{CloneURL: "https://bitbucket.org/acme/api.git"}

	authed, err := p.AuthenticatedCloneURL(repo)
	require.NoError(t, err)

	u, err := url.Parse(authed)
	require.NoError(t, err)
	assert.Equal(t, "bitbucket.org", u.Host)
	assert.Equal(t, "/acme/api.git", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "ATBB3xKq9pLmN2vC8dF4hJ7s", pw)

	// The masker scrubs the credential when the URL leaks into a message.
	leaked := fmt.Sprintf("fatal: unable to access %s", authed)
	masked := mask.Secrets(leaked)
	assert.NotContains(t, masked, "ATBB3xKq9pLmN2vC8dF4hJ7s")
	assert.Contains(t, masked, "bitbucket.org/acme/api.git")
}
