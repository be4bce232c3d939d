package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/corral-sh/corral/internal/cmdfilter"
	"github.com/corral-sh/corral/internal/shell"
	"github.com/corral-sh/corral/internal/sshexec"
	"github.com/corral-sh/corral/internal/sysinfo"
)

// buildCommandLine turns argv-style args into one shell command line.
// A single argument is taken verbatim (the user already quoted it);
// multiple arguments are re-quoted so boundaries survive the shell
// round trip ("echo" "a b" stays two words, not three).
func buildCommandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return shell.Quote(args)
}

func newExecCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run a local command through the command filter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			runner, err := shell.NewRunner(cfg, debug)
			if err != nil {
				return err
			}

			command := buildCommandLine(args)
			res, err := runner.Run(context.Background(), command, timeout)
			if err != nil {
				var pe *shell.PolicyError
				if errors.As(err, &pe) {
					exitCode = 3
					return fmt.Errorf("denied: %s", pe.Decision.Detail)
				}
				return err
			}

			fmt.Print(res.Stdout)
			fmt.Fprint(os.Stderr, res.Stderr)
			exitCode = res.ExitCode
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Kill the command after this duration (e.g. 30s)")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "check <command...>",
		Short: "Evaluate a command against the policy without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			mode := cmdfilter.Local
			if remote {
				mode = cmdfilter.Remote
			}
			command := buildCommandLine(args)
			d := cmdfilter.Evaluate(command, mode, cfg)
			if d.Allowed {
				fmt.Printf("allowed (%s)\n", mode)
				return nil
			}
			exitCode = 3
			return fmt.Errorf("denied: %s", d.Detail)
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Check against the remote (SSH) policy instead of the local one")
	return cmd
}

func newSSHCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <host> <command...>",
		Short: "Run an allowlisted command on a remote host",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cfg, err := newDispatcher()
			if err != nil {
				return err
			}
			client := sshexec.New(cfg, d.ZoneSet(), debug)

			host := args[0]
			command := buildCommandLine(args[1:])
			res, err := client.Run(context.Background(), host, command)
			if err != nil {
				var hd *sshexec.HostDeniedError
				var pe *shell.PolicyError
				if errors.As(err, &hd) || errors.As(err, &pe) {
					exitCode = 3
					return fmt.Errorf("denied: %v", err)
				}
				return err
			}

			fmt.Print(res.Stdout)
			fmt.Fprint(os.Stderr, res.Stderr)
			exitCode = res.ExitCode
			return nil
		},
	}
}

func newFetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <host> <remote-path> <local-path>",
		Short: "Copy a remote file to a safe zone over SFTP",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cfg, err := newDispatcher()
			if err != nil {
				return err
			}
			client := sshexec.New(cfg, d.ZoneSet(), debug)
			return reportResult(client.Fetch(context.Background(), args[0], args[1], args[2]))
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a directory (reads are unrestricted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			entries, err := d.List(args[0])
			if err != nil {
				return err
			}
			for _, e := range entries {
				kind := "-"
				if e.IsDir {
					kind = "d"
				}
				fmt.Printf("%s %10d  %s  %s\n", kind, e.Size, e.ModTime.Format("2006-01-02 15:04"), e.Name)
			}
			return nil
		},
	}
}

func newReadCmd() *cobra.Command {
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Print file content, optionally a line window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			content, err := d.Read(args[0], offset, limit)
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		},
	}

	cmd.Flags().IntVar(&offset, "offset", 0, "Skip this many lines")
	cmd.Flags().IntVar(&limit, "limit", 0, "Print at most this many lines (0 = all)")
	return cmd
}

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Show file metadata and safe-zone membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			fi, err := d.Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Path:      %s\n", fi.Path)
			fmt.Printf("Size:      %d\n", fi.Size)
			fmt.Printf("Mode:      %s\n", fi.Mode)
			fmt.Printf("Modified:  %s\n", fi.ModTime.Format(time.RFC3339))
			fmt.Printf("Directory: %v\n", fi.IsDir)
			fmt.Printf("Safe zone: %v\n", fi.InSafeZone)
			return nil
		},
	}
}

func newGrepCmd() *cobra.Command {
	var maxMatches int

	cmd := &cobra.Command{
		Use:   "grep <pattern> <path>",
		Short: "Search a file or directory tree for a regular expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			matches, err := d.Grep(args[1], args[0], maxMatches)
			if err != nil {
				return err
			}
			for _, m := range matches {
				fmt.Printf("%s:%d: %s\n", m.Path, m.Line, m.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxMatches, "max", 0, "Stop after this many matches (0 = default cap)")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "write <path> [content]",
		Short: "Create or replace a file inside a safe zone",
		Long:  "Create or replace a file inside a safe zone. Without a content argument, stdin is written.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}

			var content string
			if len(args) == 2 {
				content = args[1]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				content = string(data)
			}

			return reportResult(d.Write(args[0], content, overwrite))
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace the file if it exists")
	return cmd
}

func newEditCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "edit <path> <old> <new>",
		Short: "Replace text in a file inside a safe zone",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			return reportResult(d.Edit(args[0], args[1], args[2], count))
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "Replace at most this many occurrences (0 = all)")
	return cmd
}

func newCpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file or directory into a safe zone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			return reportResult(d.Copy(args[0], args[1]))
		},
	}
}

func newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <src> <dst>",
		Short: "Move a file or directory between safe-zone paths",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			return reportResult(d.Move(args[0], args[1]))
		},
	}
}

func newRmCmd() *cobra.Command {
	var permanent bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory inside a safe zone (recoverable by default)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			return reportResult(d.Delete(args[0], permanent))
		},
	}

	cmd.Flags().BoolVar(&permanent, "permanent", false, "Skip the trash and delete irrecoverably")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <token> [dest]",
		Short: "Restore a trashed file, to its original path or a new one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			dest := ""
			if len(args) == 2 {
				dest = args[1]
			}
			return reportResult(d.Restore(args[0], dest, force))
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file at the destination")
	return cmd
}

func newTrashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trash",
		Short: "Inspect and purge the trash",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List trashed entries, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			entries, err := d.Trash().Entries()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("trash is empty")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %10d  %s  %s\n", e.Token, e.Size, e.Created.Format("2006-01-02 15:04"), e.OriginalPath)
			}
			return nil
		},
	}

	var ttlDays int
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Permanently remove trashed entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, cfg, err := newDispatcher()
			if err != nil {
				return err
			}
			days := ttlDays
			if days == 0 {
				days = cfg.Trash.TTLDays
			}
			removed, err := d.Trash().Purge(time.Duration(days)*24*time.Hour, time.Time{})
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entr%s\n", removed, plural(removed, "y", "ies"))
			return nil
		},
	}
	purge.Flags().IntVar(&ttlDays, "ttl-days", 0, "Only purge entries older than this many days (0 = config value, or everything)")

	cmd.AddCommand(list, purge)
	return cmd
}

func newZonesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "zones",
		Short: "Show the compiled safe zones",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			for _, z := range d.Zones() {
				fmt.Println(z)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show host, memory, and per-zone disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := newDispatcher()
			if err != nil {
				return err
			}
			snap, err := sysinfo.Collect(d.Zones())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Printf("Host:    %s (%s/%s)\n", snap.Hostname, snap.OS, snap.Platform)
			fmt.Printf("Uptime:  %s\n", snap.Uptime)
			fmt.Printf("CPU:     %d cores", snap.CPUCount)
			if snap.CPUModel != "" {
				fmt.Printf(" (%s)", snap.CPUModel)
			}
			fmt.Println()
			fmt.Printf("Memory:  %s free of %s (%.1f%% used)\n",
				humanBytes(snap.MemFree), humanBytes(snap.MemTotal), snap.MemUsedPerc)
			for _, z := range snap.Zones {
				fmt.Printf("Zone:    %s  %s free of %s (%.1f%% used)\n",
					z.Zone, humanBytes(z.FreeBytes), humanBytes(z.TotalBytes), z.UsedPercent)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the snapshot as JSON")
	return cmd
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
