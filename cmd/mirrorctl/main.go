// Command mirrorctl manages repository mirrors: enable, disable, list,
// status, manual sync, and log retrieval. It is the short-lived control
// counterpart of the mirror-syncd daemon; both share the same schedule store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gitmirror/config"
	"gitmirror/control"
	"gitmirror/mirrorlog"
	"gitmirror/recorder"
	"gitmirror/store"
	"gitmirror/syncer"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

const usageText = `usage: mirrorctl <command> [arguments]

commands:
  enable <name> [--schedule CRON] [--timeout SECONDS]
  disable <name>
  list [--enabled-only]
  status <name>
  sync <name>
  sync-all
  logs [name] [--limit N]
`

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}
	command, args := args[0], args[1:]

	switch command {
	case "enable", "disable", "list", "status", "sync", "sync-all", "logs":
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "mirrorctl: unknown command %q\n", command)
		fmt.Fprint(stderr, usageText)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "mirrorctl: %v\n", err)
		return 1
	}
	surface, err := buildSurface(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "mirrorctl: %v\n", err)
		return 1
	}

	var cmdErr error
	switch command {
	case "enable":
		cmdErr = cmdEnable(surface, args, stdout)
	case "disable":
		cmdErr = cmdDisable(surface, args, stdout)
	case "list":
		cmdErr = cmdList(surface, args, stdout)
	case "status":
		cmdErr = cmdStatus(surface, args, stdout)
	case "sync":
		cmdErr = cmdSync(surface, args, stdout)
	case "sync-all":
		cmdErr = cmdSyncAll(surface, stdout)
	case "logs":
		cmdErr = cmdLogs(surface, args, stdout)
	}
	if cmdErr != nil {
		fmt.Fprintf(stderr, "mirrorctl: %v\n", cmdErr)
		return 1
	}
	return 0
}

func buildSurface(cfg config.Config) (*control.Surface, error) {
	st := store.New(cfg.Base.StorePath)
	st.Defaults = store.Defaults{
		Schedule:       cfg.Defaults.Schedule,
		TimeoutSeconds: cfg.Defaults.TimeoutSeconds,
		MaxConcurrent:  cfg.Defaults.MaxConcurrent,
	}
	mlog, err := mirrorlog.New(cfg.Base.LogDir)
	if err != nil {
		return nil, err
	}
	executor := &syncer.Executor{
		RepoRoot: cfg.Base.RepoRoot,
		Fetcher:  syncer.NewGitFetcher(),
	}
	return control.New(st, executor, recorder.New(st, mlog), mlog), nil
}

func cmdEnable(surface *control.Surface, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return errors.New("enable: repository name required")
	}
	name := args[0]

	fs := flag.NewFlagSet("enable", flag.ContinueOnError)
	scheduleExpr := fs.String("schedule", "", "cron schedule (default from config)")
	timeout := fs.Int("timeout", 0, "sync timeout in seconds (default from config)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	m, err := surface.Enable(name, *scheduleExpr, *timeout)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "mirror enabled: %s\n", name)
	fmt.Fprintf(stdout, "  schedule: %s\n", m.Schedule)
	fmt.Fprintf(stdout, "  timeout:  %ds\n", m.TimeoutSeconds)
	if m.NextRunAt != nil {
		fmt.Fprintf(stdout, "  next run: %s\n", m.NextRunAt.Format(time.RFC3339))
	}
	return nil
}

func cmdDisable(surface *control.Surface, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("disable: repository name required")
	}
	if _, err := surface.Disable(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "mirror disabled: %s\n", args[0])
	return nil
}

func cmdList(surface *control.Surface, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	enabledOnly := fs.Bool("enabled-only", false, "only show enabled mirrors")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := surface.List(*enabledOnly)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "no mirrors configured")
		return nil
	}
	for _, e := range entries {
		state := "disabled"
		if e.Mirror.Enabled {
			state = "enabled"
		}
		last := "never"
		if e.Mirror.LastRunAt != nil {
			last = fmt.Sprintf("%s (%s)", e.Mirror.LastRunAt.Format(time.RFC3339), e.Mirror.LastStatus)
		}
		fmt.Fprintf(stdout, "%s: %s, schedule %q, last sync %s\n", e.Name, state, e.Mirror.Schedule, last)
	}
	return nil
}

func cmdStatus(surface *control.Surface, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("status: repository name required")
	}
	m, err := surface.Status(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s:\n", args[0])
	fmt.Fprintf(stdout, "  enabled:  %t\n", m.Enabled)
	fmt.Fprintf(stdout, "  schedule: %s\n", m.Schedule)
	fmt.Fprintf(stdout, "  timeout:  %ds\n", m.TimeoutSeconds)
	fmt.Fprintf(stdout, "  status:   %s\n", m.LastStatus)
	if m.LastRunAt != nil {
		fmt.Fprintf(stdout, "  last run: %s\n", m.LastRunAt.Format(time.RFC3339))
	}
	if m.LastDurationSeconds != nil {
		fmt.Fprintf(stdout, "  duration: %ds\n", *m.LastDurationSeconds)
	}
	if m.LastError != nil {
		fmt.Fprintf(stdout, "  error:    %s\n", *m.LastError)
	}
	if m.NextRunAt != nil {
		fmt.Fprintf(stdout, "  next run: %s\n", m.NextRunAt.Format(time.RFC3339))
	}
	return nil
}

func cmdSync(surface *control.Surface, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("sync: repository name required")
	}
	name := args[0]

	out, err := surface.SyncNow(context.Background(), name)
	if err != nil {
		return err
	}
	switch out.Status {
	case syncer.StatusSuccess:
		fmt.Fprintf(stdout, "%s: synced successfully (%.1fs)\n", name, out.Duration.Seconds())
		return nil
	default:
		return fmt.Errorf("%s: sync %s: %s", name, out.Status, out.Err)
	}
}

func cmdSyncAll(surface *control.Surface, stdout io.Writer) error {
	summary, err := surface.SyncAll(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "synced %d mirror(s): %d succeeded, %d failed\n",
		summary.Total, summary.Succeeded, summary.Failed)
	if summary.Failed > 0 {
		return fmt.Errorf("%d sync(s) failed", summary.Failed)
	}
	return nil
}

func cmdLogs(surface *control.Surface, args []string, stdout io.Writer) error {
	name := ""
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of log lines")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lines, err := surface.Logs(name, *limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(stdout, line)
	}
	return nil
}
