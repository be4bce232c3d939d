// Package main implements the corral CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corral-sh/corral/internal/config"
	"github.com/corral-sh/corral/internal/fileops"
	"github.com/corral-sh/corral/internal/templates"
)

// Build-time variables (set via -ldflags)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var (
	debug        bool
	settingsPath string
	templateName string
	exitCode     int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corral",
		Short: "Safe-zone file operations and filtered command execution",
		Long: `corral gates file operations and commands behind a safe-zone policy.

Reads are allowed anywhere; writes, moves, and deletes only inside the
configured safe zones. Deletes go to a trash directory and can be
restored. Local commands pass a denylist; remote SSH commands pass an
allowlist.

Configure zones in ~/.corral.json, pass a settings file with --settings,
or use a built-in template with --template.

Examples:
  corral write ~/Documents/note.txt "hello"
  corral rm ~/Downloads/big.iso          # goes to the trash
  corral restore 1712345678901234567     # and comes back
  corral exec "make build"               # filtered local execution
  corral ssh prod-web-1.internal uptime  # allowlisted remote execution
  corral -t home zones                   # show zones of a built-in template

Configuration file format (~/.corral.json):
{
  "paths": {
    "safeZones": ["~/Documents", "~/projects"],
    "denyWrite": ["**/.git/hooks/**"]
  },
  "command": {
    "deny": ["git push"]
  },
  "ssh": {
    "allowedHosts": ["prod-*.internal"],
    "allowedCommands": ["uptime", "df"]
  }
}`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "Path to settings file (default: ~/.corral.json)")
	rootCmd.PersistentFlags().StringVarP(&templateName, "template", "t", "", "Use built-in template (e.g., home, ops)")

	rootCmd.AddCommand(
		newExecCmd(),
		newCheckCmd(),
		newSSHCmd(),
		newFetchCmd(),
		newLsCmd(),
		newReadCmd(),
		newStatCmd(),
		newGrepCmd(),
		newWriteCmd(),
		newEditCmd(),
		newCpCmd(),
		newMvCmd(),
		newRmCmd(),
		newRestoreCmd(),
		newTrashCmd(),
		newZonesCmd(),
		newStatusCmd(),
		newTemplatesCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// loadConfig loads configuration with the precedence template > settings
// file > default path, resolving extends chains relative to the file
// that declares them.
func loadConfig() (*config.Config, error) {
	switch {
	case templateName != "":
		cfg, err := templates.Load(templateName)
		if err != nil {
			return nil, fmt.Errorf("failed to load template: %w\nUse 'corral templates' to see available templates", err)
		}
		if debug {
			fmt.Fprintf(os.Stderr, "[corral] Using template: %s\n", templateName)
		}
		return cfg, nil

	case settingsPath != "":
		cfg, err := config.Load(settingsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg == nil {
			return nil, fmt.Errorf("config file not found: %s", settingsPath)
		}
		absPath, _ := filepath.Abs(settingsPath)
		cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(absPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extends: %w", err)
		}
		return cfg, nil

	default:
		configPath := config.DefaultConfigPath()
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		if cfg == nil {
			if debug {
				fmt.Fprintf(os.Stderr, "[corral] No config found at %s, using defaults\n", configPath)
			}
			return config.Default(), nil
		}
		cfg, err = templates.ResolveExtendsWithBaseDir(cfg, filepath.Dir(configPath))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve extends: %w", err)
		}
		return cfg, nil
	}
}

// newDispatcher loads the config and compiles the zone policy.
func newDispatcher() (*fileops.Dispatcher, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	d, err := fileops.New(cfg, debug)
	if err != nil {
		return nil, nil, err
	}
	return d, cfg, nil
}

// reportResult prints a mutating operation's outcome. Denials exit with
// code 3 so scripts can tell policy refusals from I/O failures.
func reportResult(r fileops.Result) error {
	switch r.Status {
	case fileops.StatusSucceeded:
		fmt.Println(r.Detail)
		return nil
	case fileops.StatusDenied:
		exitCode = 3
		return fmt.Errorf("denied: %s", r.Detail)
	default:
		return fmt.Errorf("%s", r.Detail)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("corral - safe-zone file operations and filtered command execution\n")
			fmt.Printf("  Version: %s\n", version)
			fmt.Printf("  Built:   %s\n", buildTime)
			fmt.Printf("  Commit:  %s\n", gitCommit)
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List built-in configuration templates",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available templates:")
			fmt.Println()
			for _, t := range templates.List() {
				fmt.Printf("  %-14s %s\n", t.Name, t.Description)
			}
			fmt.Println()
			fmt.Println("Usage: corral -t <template> <command>")
			fmt.Println("Example: corral -t home zones")
		},
	}
}
