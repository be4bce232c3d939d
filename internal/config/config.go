// Package config defines the configuration types and loading for corral.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config is the main configuration for corral. It is loaded once at
// process start and treated as immutable afterwards; changing the policy
// requires a restart.
type Config struct {
	Extends string        `json:"extends,omitempty"`
	Paths   PathsConfig   `json:"paths"`
	Command CommandConfig `json:"command"`
	SSH     SSHConfig     `json:"ssh"`
	Trash   TrashConfig   `json:"trash"`
}

// PathsConfig defines the safe zones and path-matching policy.
// Zone entries may contain environment placeholders (%VAR%, $VAR, ~);
// they are expanded when the zone set is compiled, not at load time.
type PathsConfig struct {
	Workspace       string   `json:"workspace,omitempty"`       // extra implicit safe zone
	SafeZones       []string `json:"safeZones"`                 // directories where write-class operations are allowed
	DenyWrite       []string `json:"denyWrite"`                 // glob patterns protected from writes even inside zones
	ResolveSymlinks *bool    `json:"resolveSymlinks,omitempty"` // nil = true (resolve before matching)
	CaseInsensitive *bool    `json:"caseInsensitive,omitempty"` // nil = per-platform default
	Shell           []string `json:"shell,omitempty"`           // shell candidates for local execution
}

// CommandConfig defines local command restrictions.
type CommandConfig struct {
	Deny        []string `json:"deny"`
	Allow       []string `json:"allow"`
	UseDefaults *bool    `json:"useDefaults,omitempty"`
}

// SSHConfig defines remote execution restrictions and connection
// settings. Remote commands are filtered with an allowlist by default:
// the blast radius on a third-party host is not ours to widen.
type SSHConfig struct {
	AllowedHosts     []string `json:"allowedHosts"`               // host patterns (wildcards like prod-*.example.com)
	DeniedHosts      []string `json:"deniedHosts"`                // checked before allowed
	AllowedCommands  []string `json:"allowedCommands"`            // allowlist mode entries
	DeniedCommands   []string `json:"deniedCommands"`             // checked before allowed
	AllowAllCommands bool     `json:"allowAllCommands,omitempty"` // switch to denylist mode
	InheritDeny      bool     `json:"inheritDeny,omitempty"`      // also apply command.deny

	User                  string `json:"user,omitempty"`
	Port                  int    `json:"port,omitempty"` // default 22
	KeyFile               string `json:"keyFile,omitempty"`
	KnownHostsFile        string `json:"knownHostsFile,omitempty"` // default ~/.ssh/known_hosts
	InsecureIgnoreHostKey bool   `json:"insecureIgnoreHostKey,omitempty"`
}

// TrashConfig configures recoverable deletion.
type TrashConfig struct {
	Dir            string `json:"dir,omitempty"` // default ~/.corral/trash
	HashLimitBytes int64  `json:"hashLimitBytes,omitempty"`
	TTLDays        int    `json:"ttlDays,omitempty"` // purge entries older than this; 0 = keep forever
}

// DefaultDeniedCommands returns local commands blocked by default.
// Dangerous system-level commands plus destructive file operations that
// have dedicated, zone-gated equivalents.
var DefaultDeniedCommands = []string{
	// System control
	"shutdown",
	"reboot",
	"halt",
	"poweroff",
	"init 0",
	"init 6",
	"systemctl poweroff",
	"systemctl reboot",
	"systemctl halt",

	// Disk/partition manipulation
	"mkfs",
	"fdisk",
	"parted",
	"gdisk",
	"format",
	"dd if=",

	// Recursive/irreversible deletion (use the gated delete operation)
	"rm -rf",
	"rm -fr",
	"shred",

	// Ownership and account manipulation
	"chown",
	"chgrp",
	"useradd",
	"userdel",
	"usermod",
	"passwd",

	// Force kills and firewall edits
	"kill -9",
	"killall",
	"taskkill",
	"iptables",
	"netsh advfirewall",

	// Chroot/namespace escape
	"chroot",
	"unshare",
	"nsenter",
}

// DefaultSafeZones returns the zones used when the config names none:
// the conventional user directories for downloaded and authored content.
func DefaultSafeZones() []string {
	return []string{
		"~/Documents",
		"~/Downloads",
		"~/Desktop",
	}
}

// Default returns the default configuration: default safe zones, default
// command denylist, SSH fully locked down.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			SafeZones: DefaultSafeZones(),
			DenyWrite: []string{},
		},
		Command: CommandConfig{
			Deny:  []string{},
			Allow: []string{},
			// UseDefaults defaults to true (nil = true)
		},
		SSH: SSHConfig{
			AllowedHosts:    []string{},
			DeniedHosts:     []string{},
			AllowedCommands: []string{},
			DeniedCommands:  []string{},
		},
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".corral.json"
	}
	return filepath.Join(home, ".corral.json")
}

// DefaultTrashDir returns the trash directory used when the config does
// not set one.
func DefaultTrashDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "corral-trash")
	}
	return filepath.Join(home, ".corral", "trash")
}

// Load loads configuration from a file path. A missing or empty file
// returns (nil, nil); the caller decides whether to fall back to
// Default(). A malformed file is a configuration error: the process must
// not start with a policy it cannot parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path - intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if slices.Contains(c.Paths.SafeZones, "") {
		return errors.New("paths.safeZones contains empty path")
	}
	if slices.Contains(c.Paths.DenyWrite, "") {
		return errors.New("paths.denyWrite contains empty pattern")
	}
	if slices.Contains(c.Paths.Shell, "") {
		return errors.New("paths.shell contains empty path")
	}

	if slices.Contains(c.Command.Deny, "") {
		return errors.New("command.deny contains empty pattern")
	}
	if slices.Contains(c.Command.Allow, "") {
		return errors.New("command.allow contains empty pattern")
	}

	for _, host := range c.SSH.AllowedHosts {
		if err := validateHostPattern(host); err != nil {
			return fmt.Errorf("invalid ssh.allowedHosts %q: %w", host, err)
		}
	}
	for _, host := range c.SSH.DeniedHosts {
		if err := validateHostPattern(host); err != nil {
			return fmt.Errorf("invalid ssh.deniedHosts %q: %w", host, err)
		}
	}
	if slices.Contains(c.SSH.AllowedCommands, "") {
		return errors.New("ssh.allowedCommands contains empty command")
	}
	if slices.Contains(c.SSH.DeniedCommands, "") {
		return errors.New("ssh.deniedCommands contains empty command")
	}
	if c.SSH.Port < 0 || c.SSH.Port > 65535 {
		return fmt.Errorf("invalid ssh.port %d", c.SSH.Port)
	}

	if c.Trash.HashLimitBytes < 0 {
		return errors.New("trash.hashLimitBytes must not be negative")
	}
	if c.Trash.TTLDays < 0 {
		return errors.New("trash.ttlDays must not be negative")
	}

	return nil
}

// UseDefaultDeniedCommands returns whether to use the default deny list.
func (c *CommandConfig) UseDefaultDeniedCommands() bool {
	return c.UseDefaults == nil || *c.UseDefaults
}

// ResolveSymlinksEnabled returns whether zone matching resolves symlinks
// first (the default).
func (p *PathsConfig) ResolveSymlinksEnabled() bool {
	return p.ResolveSymlinks == nil || *p.ResolveSymlinks
}

// validateHostPattern validates an SSH host pattern. Host patterns may
// contain wildcards anywhere, be IP addresses, or be bare hostnames.
func validateHostPattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty host pattern")
	}

	if strings.Contains(pattern, "://") || strings.Contains(pattern, "/") {
		return errors.New("host pattern cannot contain protocol or path")
	}

	// Ports belong in ssh.port, not in the pattern. Colons are still
	// fine for IPv6 addresses.
	if strings.Contains(pattern, ":") && !isIPv6Pattern(pattern) {
		return errors.New("host pattern cannot contain port; set ssh.port instead")
	}

	if strings.Contains(pattern, "@") {
		return errors.New("host pattern should not contain username; set ssh.user instead")
	}

	return nil
}

// isIPv6Pattern checks if a pattern looks like an IPv6 address.
func isIPv6Pattern(pattern string) bool {
	return strings.Count(pattern, ":") >= 2
}

// MatchesHost checks if a hostname matches an SSH host pattern.
// Patterns support * wildcards anywhere; matching is case-insensitive.
func MatchesHost(hostname, pattern string) bool {
	hostname = strings.ToLower(hostname)
	pattern = strings.ToLower(pattern)

	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return hostname == pattern
	}
	return matchGlob(hostname, pattern)
}

// matchGlob performs simple glob matching with * wildcards.
func matchGlob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == "" {
		return s == ""
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	if len(parts) > 1 {
		last := parts[len(parts)-1]
		if !strings.HasSuffix(s, last) {
			return false
		}
		s = s[:len(s)-len(last)]
	}

	for i := 1; i < len(parts)-1; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		idx := strings.Index(s, part)
		if idx < 0 {
			return false
		}
		s = s[idx+len(part):]
	}

	return true
}

// Merge combines a base config with an override config.
// Values in override take precedence. Slice fields are appended
// (base first, duplicates removed). The Extends field is cleared in the
// result since inheritance has been resolved.
func Merge(base, override *Config) *Config {
	if base == nil {
		if override == nil {
			return Default()
		}
		result := *override
		result.Extends = ""
		return &result
	}
	if override == nil {
		result := *base
		result.Extends = ""
		return &result
	}

	return &Config{
		Paths: PathsConfig{
			Workspace:       mergeString(base.Paths.Workspace, override.Paths.Workspace),
			SafeZones:       mergeStrings(base.Paths.SafeZones, override.Paths.SafeZones),
			DenyWrite:       mergeStrings(base.Paths.DenyWrite, override.Paths.DenyWrite),
			ResolveSymlinks: mergeOptionalBool(base.Paths.ResolveSymlinks, override.Paths.ResolveSymlinks),
			CaseInsensitive: mergeOptionalBool(base.Paths.CaseInsensitive, override.Paths.CaseInsensitive),
			Shell:           mergeStrings(base.Paths.Shell, override.Paths.Shell),
		},

		Command: CommandConfig{
			Deny:        mergeStrings(base.Command.Deny, override.Command.Deny),
			Allow:       mergeStrings(base.Command.Allow, override.Command.Allow),
			UseDefaults: mergeOptionalBool(base.Command.UseDefaults, override.Command.UseDefaults),
		},

		SSH: SSHConfig{
			AllowedHosts:    mergeStrings(base.SSH.AllowedHosts, override.SSH.AllowedHosts),
			DeniedHosts:     mergeStrings(base.SSH.DeniedHosts, override.SSH.DeniedHosts),
			AllowedCommands: mergeStrings(base.SSH.AllowedCommands, override.SSH.AllowedCommands),
			DeniedCommands:  mergeStrings(base.SSH.DeniedCommands, override.SSH.DeniedCommands),

			AllowAllCommands: base.SSH.AllowAllCommands || override.SSH.AllowAllCommands,
			InheritDeny:      base.SSH.InheritDeny || override.SSH.InheritDeny,

			User:                  mergeString(base.SSH.User, override.SSH.User),
			Port:                  mergeInt(base.SSH.Port, override.SSH.Port),
			KeyFile:               mergeString(base.SSH.KeyFile, override.SSH.KeyFile),
			KnownHostsFile:        mergeString(base.SSH.KnownHostsFile, override.SSH.KnownHostsFile),
			InsecureIgnoreHostKey: base.SSH.InsecureIgnoreHostKey || override.SSH.InsecureIgnoreHostKey,
		},

		Trash: TrashConfig{
			Dir:            mergeString(base.Trash.Dir, override.Trash.Dir),
			HashLimitBytes: mergeInt64(base.Trash.HashLimitBytes, override.Trash.HashLimitBytes),
			TTLDays:        mergeInt(base.Trash.TTLDays, override.Trash.TTLDays),
		},
	}
}

// mergeStrings appends two string slices, removing duplicates.
func mergeStrings(base, override []string) []string {
	if len(base) == 0 {
		return override
	}
	if len(override) == 0 {
		return base
	}

	seen := make(map[string]bool, len(base))
	result := make([]string, 0, len(base)+len(override))

	for _, s := range base {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range override {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// mergeOptionalBool returns override if non-nil, otherwise base.
func mergeOptionalBool(base, override *bool) *bool {
	if override != nil {
		return override
	}
	return base
}

// mergeString returns override if non-empty, otherwise base.
func mergeString(base, override string) string {
	if override != "" {
		return override
	}
	return base
}

// mergeInt returns override if non-zero, otherwise base.
func mergeInt(base, override int) int {
	if override != 0 {
		return override
	}
	return base
}

// mergeInt64 returns override if non-zero, otherwise base.
func mergeInt64(base, override int64) int64 {
	if override != 0 {
		return override
	}
	return base
}
