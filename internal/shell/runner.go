// Package shell runs local commands through the command filter, with a
// hardened environment and shell-safe quoting helpers.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/corral-sh/corral/internal/cmdfilter"
	"github.com/corral-sh/corral/internal/config"
)

// PolicyError is returned when the command filter refuses a command.
// Callers use it to report "denied" rather than "failed".
type PolicyError struct {
	Decision cmdfilter.Decision
}

func (e *PolicyError) Error() string {
	return e.Decision.Detail
}

// ExecResult holds the captured output of a completed command.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Runner executes local shell commands under the configured policy.
type Runner struct {
	cfg   *config.Config
	shell string
	debug bool
}

// NewRunner resolves the shell to use and returns a Runner. Shell
// candidates come from the config; without any, platform defaults are
// probed on PATH.
func NewRunner(cfg *config.Config, debug bool) (*Runner, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	sh, err := FindShell(cfg.Paths.Shell)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, shell: sh, debug: debug}, nil
}

// Shell returns the resolved shell binary.
func (r *Runner) Shell() string {
	return r.shell
}

// FindShell returns the first usable shell from candidates, falling back
// to the platform defaults on PATH.
func FindShell(candidates []string) (string, error) {
	if len(candidates) == 0 {
		if runtime.GOOS == "windows" {
			candidates = []string{"powershell.exe", "cmd.exe"}
		} else {
			candidates = []string{"bash", "sh"}
		}
	}

	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no usable shell found (tried %v)", candidates)
}

// shellFlag returns the flag the resolved shell uses to run a command
// string: PowerShell takes -Command, cmd.exe takes /C, POSIX shells -c.
func shellFlag(shellPath string) string {
	base := filepath.Base(strings.ReplaceAll(shellPath, `\`, `/`))
	name := strings.TrimSuffix(strings.ToLower(base), ".exe")
	switch name {
	case "powershell", "pwsh":
		return "-Command"
	case "cmd":
		return "/C"
	default:
		return "-c"
	}
}

// Run executes a command line through the shell after the command filter
// approves it. A non-zero exit is not an error; the code is reported in
// the result. A denial returns a *PolicyError and nothing runs.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error) {
	if d := cmdfilter.Evaluate(command, cmdfilter.Local, r.cfg); !d.Allowed {
		return nil, &PolicyError{Decision: d}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	env := os.Environ()
	if stripped := StrippedEnvVars(env); len(stripped) > 0 && r.debug {
		fmt.Fprintf(os.Stderr, "[corral] stripped env vars: %v\n", stripped)
	}

	cmd := exec.CommandContext(ctx, r.shell, shellFlag(r.shell), command)
	cmd.Env = FilterDangerousEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("command timed out after %s", timeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, err
	}
	return res, nil
}
