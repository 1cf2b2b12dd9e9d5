// Package bulk clones or updates many repositories concurrently with bounded
// parallelism, per-item outcome tracking, and non-blocking progress events.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kuhlman-labs/mgit/internal/config"
	"github.com/kuhlman-labs/mgit/internal/gitexec"
	"github.com/kuhlman-labs/mgit/internal/mask"
	"github.com/kuhlman-labs/mgit/internal/provider"
)

// MaxConcurrency is the hard cap on parallel git subprocesses.
const MaxConcurrency = 50

// Outcome is the terminal state of one repository in a bulk run.
type Outcome string

const (
	OutcomeCloned           Outcome = "cloned"
	OutcomePulled           Outcome = "pulled"
	OutcomeSkippedExisting  Outcome = "skipped-existing"
	OutcomeSkippedDisabled  Outcome = "skipped-disabled"
	OutcomeSkippedFiltered  Outcome = "skipped-filtered"
	OutcomeForceOverwritten Outcome = "force-overwritten"
	OutcomeFailed           Outcome = "failed"
)

// RepoOutcome records what happened to one repository. Reason is always safe
// to display; failure text has been through the credential masker.
type RepoOutcome struct {
	Repo        provider.Repository
	Destination string
	Outcome     Outcome
	Reason      string
	Duration    time.Duration
}

// Result aggregates a bulk run. The counters always sum to the number of
// repositories that entered the run after include/exclude filtering.
type Result struct {
	RunID    string
	Started  time.Time
	Duration time.Duration

	Cloned           int
	Pulled           int
	SkippedExisting  int
	SkippedDisabled  int
	SkippedFiltered  int
	ForceOverwritten int
	Failed           int

	Outcomes []RepoOutcome
}

func (r *Result) add(o RepoOutcome) {
	switch o.Outcome {
	case OutcomeCloned:
		r.Cloned++
	case OutcomePulled:
		r.Pulled++
	case OutcomeSkippedExisting:
		r.SkippedExisting++
	case OutcomeSkippedDisabled:
		r.SkippedDisabled++
	case OutcomeSkippedFiltered:
		r.SkippedFiltered++
	case OutcomeForceOverwritten:
		r.ForceOverwritten++
	case OutcomeFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// Total returns the number of repositories the run accounted for.
func (r *Result) Total() int {
	return r.Cloned + r.Pulled + r.SkippedExisting + r.SkippedDisabled +
		r.SkippedFiltered + r.ForceOverwritten + r.Failed
}

// Options controls one bulk run.
type Options struct {
	// Target is the directory repositories are cloned under.
	Target string
	// UpdateMode decides what happens when a destination already exists.
	UpdateMode config.UpdateMode
	// Concurrency bounds parallel git subprocesses; clamped to [1, 50].
	Concurrency int
	// Include, when non-empty, restricts the run to these repository names.
	// Exclude removes names. Both match case-sensitively and literally.
	Include []string
	Exclude []string
	// DryRun reports planned outcomes without touching the filesystem or
	// spawning subprocesses.
	DryRun bool
	// ConfirmForce is consulted before an existing destination is deleted
	// under force mode. A nil callback refuses every deletion.
	ConfirmForce func(repo provider.Repository, dest string) bool
}

type workItem struct {
	repo provider.Repository
	dest string
}

// GitRunner is the subset of the git wrapper the engine invokes.
// *gitexec.Runner satisfies it.
type GitRunner interface {
	Clone(ctx context.Context, authURL, dest string) error
	Pull(ctx context.Context, dir string) error
}

var _ GitRunner = (*gitexec.Runner)(nil)

// Engine runs bulk clone and pull operations against one provider account.
type Engine struct {
	provider provider.Provider
	runner   GitRunner
	reporter *Reporter
	logger   *slog.Logger
}

// NewEngine creates an engine. reporter may be nil when no consumer wants
// progress events.
func NewEngine(p provider.Provider, runner GitRunner, reporter *Reporter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: p, runner: runner, reporter: reporter, logger: logger}
}

// Run executes the bulk operation. It always returns a Result; the error is
// non-nil only for fatal conditions (authentication failure before dispatch,
// an unusable target directory) or cancellation.
func (e *Engine) Run(ctx context.Context, repos []provider.Repository, opts Options) (*Result, error) {
	result := &Result{RunID: uuid.NewString(), Started: time.Now()}
	defer func() {
		result.Duration = time.Since(result.Started)
		e.sortOutcomes(result)
	}()

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	if err := e.provider.Authenticate(ctx); err != nil {
		return result, fmt.Errorf("authenticating account %q: %w", e.provider.Name(), err)
	}

	if !opts.DryRun {
		if err := os.MkdirAll(opts.Target, 0o755); err != nil {
			return result, fmt.Errorf("%w: creating target directory: %v", provider.ErrConfig, err)
		}
	}

	e.logger.Info("bulk run starting",
		"run_id", result.RunID,
		"account", e.provider.Name(),
		"repos", len(repos),
		"target", opts.Target,
		"update_mode", string(opts.UpdateMode),
		"concurrency", concurrency,
		"dry_run", opts.DryRun)

	var mu sync.Mutex
	record := func(o RepoOutcome) {
		mu.Lock()
		result.add(o)
		mu.Unlock()
		e.emit(Event{
			Type:        EventCompleted,
			Repo:        o.Repo,
			Destination: o.Destination,
			Outcome:     o.Outcome,
			Reason:      o.Reason,
		})
	}

	items := e.buildWorkItems(repos, opts, record)

	if opts.DryRun {
		for _, it := range items {
			e.emit(Event{Type: EventStarted, Repo: it.repo, Destination: it.dest})
			record(RepoOutcome{
				Repo:        it.repo,
				Destination: it.dest,
				Outcome:     e.plannedOutcome(it, opts),
				Reason:      "dry-run",
			})
		}
		return result, nil
	}

	g := &errgroup.Group{}
	g.SetLimit(concurrency)

	cancelled := false
	for i, it := range items {
		if ctx.Err() != nil {
			// Stop dispatching; everything not yet started is accounted for.
			cancelled = true
			for _, rest := range items[i:] {
				record(RepoOutcome{
					Repo:        rest.repo,
					Destination: rest.dest,
					Outcome:     OutcomeSkippedFiltered,
					Reason:      "cancelled",
				})
			}
			break
		}
		it := it
		g.Go(func() error {
			record(e.process(ctx, it, opts))
			return nil
		})
	}
	_ = g.Wait()

	if cancelled || ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// buildWorkItems filters and deduplicates the input. Include/exclude drops
// repositories from the run entirely; disabled repositories and duplicate
// destinations get a terminal outcome without dispatch.
func (e *Engine) buildWorkItems(repos []provider.Repository, opts Options, record func(RepoOutcome)) []workItem {
	skip := func(repo provider.Repository, dest string, outcome Outcome, reason string) {
		e.emit(Event{Type: EventStarted, Repo: repo, Destination: dest})
		record(RepoOutcome{Repo: repo, Destination: dest, Outcome: outcome, Reason: reason})
	}

	seen := make(map[string]string, len(repos))
	items := make([]workItem, 0, len(repos))
	for _, repo := range repos {
		if !nameIncluded(repo.Name, opts.Include, opts.Exclude) {
			e.logger.Debug("repository filtered out", "repo", repo.Name)
			continue
		}
		dest := filepath.Join(opts.Target, Sanitize(repo.Name))
		if first, dup := seen[dest]; dup {
			skip(repo, dest, OutcomeSkippedFiltered,
				fmt.Sprintf("destination collides with %q after sanitization", first))
			continue
		}
		seen[dest] = repo.Name
		if repo.IsDisabled {
			skip(repo, dest, OutcomeSkippedDisabled, "repository is disabled")
			continue
		}
		items = append(items, workItem{repo: repo, dest: dest})
	}
	return items
}

func nameIncluded(name string, include, exclude []string) bool {
	if len(include) > 0 {
		found := false
		for _, want := range include {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, skip := range exclude {
		if name == skip {
			return false
		}
	}
	return true
}

// plannedOutcome predicts the outcome for dry-run without executing anything.
func (e *Engine) plannedOutcome(it workItem, opts Options) Outcome {
	if _, err := os.Stat(it.dest); err != nil {
		return OutcomeCloned
	}
	switch opts.UpdateMode {
	case config.UpdatePull:
		return OutcomePulled
	case config.UpdateForce:
		return OutcomeForceOverwritten
	default:
		return OutcomeSkippedExisting
	}
}

// process handles one repository end to end inside a worker slot.
func (e *Engine) process(ctx context.Context, it workItem, opts Options) RepoOutcome {
	e.emit(Event{Type: EventStarted, Repo: it.repo, Destination: it.dest})
	start := time.Now()

	done := func(outcome Outcome, reason string) RepoOutcome {
		return RepoOutcome{
			Repo:        it.repo,
			Destination: it.dest,
			Outcome:     outcome,
			Reason:      reason,
			Duration:    time.Since(start),
		}
	}

	_, statErr := os.Stat(it.dest)
	exists := statErr == nil

	switch {
	case !exists:
		return e.clone(ctx, it, OutcomeCloned, done)

	case opts.UpdateMode == config.UpdatePull:
		e.emit(Event{Type: EventProgress, Repo: it.repo, Destination: it.dest, Phase: "pulling"})
		if err := e.runner.Pull(ctx, it.dest); err != nil {
			return e.failure(ctx, done, err)
		}
		return done(OutcomePulled, "")

	case opts.UpdateMode == config.UpdateForce:
		if opts.ConfirmForce == nil || !opts.ConfirmForce(it.repo, it.dest) {
			return done(OutcomeSkippedExisting, "force-unconfirmed")
		}
		if err := os.RemoveAll(it.dest); err != nil {
			return done(OutcomeFailed, mask.Secrets(fmt.Sprintf("removing %s: %v", it.dest, err)))
		}
		return e.clone(ctx, it, OutcomeForceOverwritten, done)

	default:
		return done(OutcomeSkippedExisting, "")
	}
}

func (e *Engine) clone(ctx context.Context, it workItem, success Outcome, done func(Outcome, string) RepoOutcome) RepoOutcome {
	e.emit(Event{Type: EventProgress, Repo: it.repo, Destination: it.dest, Phase: "cloning"})

	// Authenticated URLs are built just-in-time and never stored.
	authURL, err := e.provider.AuthenticatedCloneURL(it.repo)
	if err != nil {
		return done(OutcomeFailed, mask.Error(err))
	}
	if err := e.runner.Clone(ctx, authURL, it.dest); err != nil {
		return e.failure(ctx, done, err)
	}
	return done(success, "")
}

func (e *Engine) failure(ctx context.Context, done func(Outcome, string) RepoOutcome, err error) RepoOutcome {
	if ctx.Err() != nil {
		return done(OutcomeFailed, "cancelled")
	}
	return done(OutcomeFailed, mask.Error(err))
}

func (e *Engine) emit(ev Event) {
	if e.reporter != nil {
		e.reporter.publish(ev)
	}
}

// sortOutcomes orders outcomes for display: (provider, organization, project,
// name), case-insensitive.
func (e *Engine) sortOutcomes(result *Result) {
	sort.SliceStable(result.Outcomes, func(i, j int) bool {
		a, b := result.Outcomes[i].Repo, result.Outcomes[j].Repo
		if c := strings.Compare(strings.ToLower(string(a.Provider)), strings.ToLower(string(b.Provider))); c != 0 {
			return c < 0
		}
		if c := strings.Compare(strings.ToLower(a.Organization), strings.ToLower(b.Organization)); c != 0 {
			return c < 0
		}
		if c := strings.Compare(strings.ToLower(a.Project), strings.ToLower(b.Project)); c != 0 {
			return c < 0
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
}
