// Package factory constructs provider adapters from account configuration.
package factory

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/provider"
	"github.com/kuhlman-labs/mgit/internal/provider/azuredevops"
	"github.com/kuhlman-labs/mgit/internal/provider/bitbucket"
	"github.com/kuhlman-labs/mgit/internal/provider/github"
)

// New builds the adapter for one configured account. The account name is
// carried into every Repository the adapter emits. onRateLimit, when non-nil,
// receives a notification for every rate-limit wait so the caller can surface
// it to the user; passing nil leaves only the retryer's log line.
func New(account string, acct config.AccountConfig, global config.GlobalConfig, onRateLimit func(wait time.Duration), logger *slog.Logger) (provider.Provider, error) {
	httpTimeout := time.Duration(global.HTTPTimeoutSeconds) * time.Second
	retry := provider.DefaultRetryConfig()

	switch provider.Kind(strings.ToLower(acct.Kind)) {
	case provider.KindAzureDevOps:
		return azuredevops.New(azuredevops.Options{
			Account:         account,
			OrganizationURL: acct.BaseURL,
			PAT:             acct.PAT,
			HTTPTimeout:     httpTimeout,
			Retry:           retry,
			OnRateLimit:     onRateLimit,
			Logger:          logger,
		})
	case provider.KindGitHub:
		return github.New(github.Options{
			Account:     account,
			Token:       acct.Token,
			APIURL:      acct.APIURL,
			HTTPTimeout: httpTimeout,
			Retry:       retry,
			OnRateLimit: onRateLimit,
			Logger:      logger,
		})
	case provider.KindBitbucket:
		return bitbucket.New(bitbucket.Options{
			Account:     account,
			Username:    acct.Username,
			AppPassword: acct.AppPassword,
			BaseURL:     acct.BaseURL,
			HTTPTimeout: httpTimeout,
			Retry:       retry,
			OnRateLimit: onRateLimit,
			Logger:      logger,
		})
	default:
		return nil, fmt.Errorf("%w: account %q: unknown provider kind %q", provider.ErrConfig, account, acct.Kind)
	}
}
