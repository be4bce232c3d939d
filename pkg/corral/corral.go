// Package corral provides a public API for safe-zone file operations
// and filtered command execution.
package corral

import (
	"github.com/corral-sh/corral/internal/cmdfilter"
	"github.com/corral-sh/corral/internal/config"
	"github.com/corral-sh/corral/internal/fileops"
	"github.com/corral-sh/corral/internal/shell"
	"github.com/corral-sh/corral/internal/sshexec"
)

// Config is the configuration for corral.
type Config = config.Config

// PathsConfig defines the safe zones and path-matching policy.
type PathsConfig = config.PathsConfig

// CommandConfig defines local command restrictions.
type CommandConfig = config.CommandConfig

// SSHConfig defines remote execution restrictions.
type SSHConfig = config.SSHConfig

// Dispatcher runs file operations behind the safe-zone policy.
type Dispatcher = fileops.Dispatcher

// Result reports the outcome of a mutating file operation.
type Result = fileops.Result

// Runner executes local shell commands under the configured policy.
type Runner = shell.Runner

// SSHClient runs allowlisted commands on remote hosts.
type SSHClient = sshexec.Client

// Outcome statuses for mutating operations.
const (
	StatusSucceeded = fileops.StatusSucceeded
	StatusFailed    = fileops.StatusFailed
	StatusDenied    = fileops.StatusDenied
)

// DefaultConfig returns the default configuration: default safe zones,
// default command denylist, SSH locked down.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig loads configuration from a file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return config.DefaultConfigPath()
}

// NewDispatcher compiles the configured safe zones and returns a
// Dispatcher. If debug is true, verbose logging is enabled.
func NewDispatcher(cfg *Config, debug bool) (*Dispatcher, error) {
	return fileops.New(cfg, debug)
}

// NewRunner returns a local command runner under the config's policy.
func NewRunner(cfg *Config, debug bool) (*Runner, error) {
	return shell.NewRunner(cfg, debug)
}

// NewSSHClient returns an SSH client gated by the config's host and
// command policies. Fetched files must land inside the dispatcher's
// safe zones.
func NewSSHClient(cfg *Config, d *Dispatcher, debug bool) *SSHClient {
	return sshexec.New(cfg, d.ZoneSet(), debug)
}

// CheckCommand evaluates a local command line against the policy
// without running it. It returns true when the command would be
// allowed, plus a human-readable detail when it would not.
func CheckCommand(cfg *Config, command string) (bool, string) {
	d := cmdfilter.Evaluate(command, cmdfilter.Local, cfg)
	return d.Allowed, d.Detail
}
