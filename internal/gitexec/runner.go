// Package gitexec runs git subprocesses for clone and pull with timeouts,
// prompt suppression, and credential-masked output.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kuhlman-labs/mgit/internal/mask"
)

// DefaultTimeout bounds a single git subprocess.
const DefaultTimeout = 600 * time.Second

// ErrTimeout is returned when a git subprocess exceeds its deadline.
var ErrTimeout = errors.New("git operation timed out")

// killGrace is how long a cancelled subprocess group gets to exit on SIGTERM
// before it is SIGKILLed.
const killGrace = 5 * time.Second

// Runner executes git subprocesses. The zero value is not usable; construct
// with NewRunner.
type Runner struct {
	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger
}

// NewRunner creates a runner. A timeout of zero uses DefaultTimeout.
func NewRunner(timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{timeout: timeout, grace: killGrace, logger: logger}
}

// Clone runs `git clone authURL dest`. The authenticated URL is never
// logged; captured output is masked before being surfaced.
func (r *Runner) Clone(ctx context.Context, authURL, dest string) error {
	// Log host and path only.
	r.logger.Debug("git clone", "remote", redactURL(authURL), "dest", dest)
	return r.run(ctx, "", "clone", "--", authURL, dest)
}

// Pull runs `git pull` inside dir.
func (r *Runner) Pull(ctx context.Context, dir string) error {
	r.logger.Debug("git pull", "dir", dir)
	return r.run(ctx, dir, "pull", "--ff-only")
}

func (r *Runner) run(ctx context.Context, dir string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// #nosec G204 -- args are fixed verbs plus validated URL/path operands
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Never prompt for credentials or host keys.
	cmd.Env = append(os.Environ(),
		"GIT_TERMINAL_PROMPT=0",
		"GCM_INTERACTIVE=never",
	)

	// Run the subprocess in its own group so cancellation reaches git
	// together with any credential helpers it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stop := r.escalate(cmd)

	err := cmd.Run()
	stop()
	if err == nil {
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	msg := strings.TrimSpace(mask.Secrets(output.String()))
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("git %s failed: %s", args[0], msg)
}

// escalate arranges SIGTERM-then-SIGKILL delivery to the subprocess group on
// cancellation. WaitDelay alone only kills cmd.Process, so a helper process
// that ignores SIGTERM would outlive the run; the armed timer SIGKILLs the
// whole group after the grace period. The returned stop disarms it once the
// run has ended.
func (r *Runner) escalate(cmd *exec.Cmd) (stop func()) {
	var mu sync.Mutex
	var kill *time.Timer

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid := cmd.Process.Pid
		mu.Lock()
		kill = time.AfterFunc(r.grace, func() {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		})
		mu.Unlock()
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}
	cmd.WaitDelay = r.grace

	return func() {
		mu.Lock()
		if kill != nil {
			kill.Stop()
		}
		mu.Unlock()
	}
}

// redactURL strips userinfo from a URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return mask.Secrets(raw)
	}
	u.User = nil
	return u.String()
}
