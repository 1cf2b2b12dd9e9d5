package azuredevops

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/core"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/git"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuhlman-labs/mgit/internal/provider"
)

func TestNormalizeOrgURL(t *testing.T) {
	tests := []struct {
		raw     string
		wantURL string
		wantOrg string
		wantErr bool
	}{
		{raw: "https://dev.azure.com/acme", wantURL: "https://dev.azure.com/acme", wantOrg: "acme"},
		{raw: "https://dev.azure.com/acme/", wantURL: "https://dev.azure.com/acme", wantOrg: "acme"},
		{raw: "https://acme.visualstudio.com", wantURL: "https://dev.azure.com/acme", wantOrg: "acme"},
		{raw: "https://acme.visualstudio.com/DefaultCollection", wantURL: "https://dev.azure.com/acme", wantOrg: "acme"},
		{raw: "https://ado.example.com/acme", wantURL: "https://ado.example.com/acme", wantOrg: "acme"},
		{raw: "not a url", wantErr: true},
		{raw: "https://dev.azure.com", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		gotURL, gotOrg, err := normalizeOrgURL(tt.raw)
		if tt.wantErr {
			require.Error(t, err, tt.raw)
			assert.ErrorIs(t, err, provider.ErrConfig, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.wantURL, gotURL, tt.raw)
		assert.Equal(t, tt.wantOrg, gotOrg, tt.raw)
	}
}

func TestNewRequiresURLAndPAT(t *testing.T) {
	_, err := New(Options{PAT: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrConfig)

	_, err = New(Options{OrganizationURL: "https://dev.azure.com/acme"})
	require.Error(t, err)
	assert.ErrorIs(t, err, provider.ErrConfig)
}

func testProvider() *Provider {
	return &Provider{
		account:      "work",
		organization: "acme",
		orgURL:       "https://dev.azure.com/acme",
		pat:          "abcdefghijklmnopqrstuvwxyz0123456789abcdefghijklmnop",
	}
}

func TestCallTimeoutBoundsEachAttempt(t *testing.T) {
	p := testProvider()
	p.httpTimeout = 30 * time.Second

	ctx, cancel := p.callTimeout(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok, "a configured timeout puts a deadline on the call")
	assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, time.Second)

	p.httpTimeout = 0
	ctx, cancel = p.callTimeout(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok, "zero timeout leaves the context unbounded")
}

func TestToRepository(t *testing.T) {
	p := testProvider()

	disabled := true
	size := uint64(4096)
	repo := p.toRepository(git.GitRepository{
		Name:          ptr("api"),
		RemoteUrl:     ptr("https://dev.azure.com/acme/Pay/_git/api"),
		SshUrl:        ptr("git@ssh.dev.azure.com:v3/acme/Pay/api"),
		DefaultBranch: ptr("refs/heads/main"),
		IsDisabled:    &disabled,
		Size:          &size,
		Project: &core.TeamProjectReference{
			Visibility: &core.ProjectVisibilityValues.Private,
		},
	}, "Pay")

	assert.Equal(t, "api", repo.Name)
	assert.Equal(t, "main", repo.DefaultBranch, "refs/heads/ prefix stripped")
	assert.True(t, repo.IsDisabled)
	assert.True(t, repo.IsPrivate)
	assert.Equal(t, int64(4096), repo.Size)
	assert.Equal(t, provider.KindAzureDevOps, repo.Provider)
	assert.Equal(t, "work", repo.Account)
	assert.Equal(t, "acme", repo.Organization)
	assert.Equal(t, "Pay", repo.Project)
	assert.False(t, repo.ProjectSynthetic)
}

func TestWrapClassifiesSDKErrors(t *testing.T) {
	p := testProvider()

	status := 401
	err := p.wrap("authenticate", azuredevops.WrappedError{StatusCode: &status})
	assert.True(t, provider.IsAuth(err))

	status404 := 404
	err = p.wrap("get_repo", azuredevops.WrappedError{StatusCode: &status404})
	assert.True(t, provider.IsNotFound(err))

	err = p.wrap("list_projects", errors.New("dial tcp: connection refused"))
	assert.True(t, errors.Is(err, provider.ErrNetwork))

	assert.NoError(t, p.wrap("noop", nil))
}

func TestAuthenticatedCloneURLEmbedsPAT(t *testing.T) {
	p := testProvider()
	repo := provider.Repository{CloneURL: "https://dev.azure.com/acme/Pay/_git/api"}

	authed, err := p.AuthenticatedCloneURL(repo)
	require.NoError(t, err)

	u, err := url.Parse(authed)
	require.NoError(t, err)
	assert.Equal(t, "dev.azure.com", u.Host)
	assert.Equal(t, "/acme/Pay/_git/api", u.Path)
	assert.Equal(t, p.pat, u.User.Username())
}

func ptr[T any](v T) *T { return &v }
