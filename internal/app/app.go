// Package app dispatches muninn CLI commands to the daemon, the IPC client, and local tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/muninn/internal/audio"
	"github.com/rbright/muninn/internal/cli"
	"github.com/rbright/muninn/internal/config"
	"github.com/rbright/muninn/internal/doctor"
	"github.com/rbright/muninn/internal/files"
	"github.com/rbright/muninn/internal/ipc"
	"github.com/rbright/muninn/internal/logging"
	"github.com/rbright/muninn/internal/store"
	"github.com/rbright/muninn/internal/version"
)

const binaryName = "muninn"

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdin: os.Stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	cfg := cfgLoaded.Config

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		Path:       config.ExpandPath(cfg.Log.Path),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}
	if cfg.Log.Stderr && parsed.Command == cli.CommandRun {
		logOpts.Tee = r.Stderr
	}
	logRuntime, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandRun:
		return r.commandRun(ctx, cfg, logRuntime, logger)
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandCleanup:
		return r.commandCleanup(ctx, cfg, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx, cfg)
	case cli.CommandList:
		return r.commandList(ctx, cfg, logger)
	case cli.CommandHistory, cli.CommandShow, cli.CommandSearch, cli.CommandArchive, cli.CommandDelete, cli.CommandSetting:
		return r.commandMessages(ctx, cfg, parsed, logger)
	case cli.CommandWake:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandWake})
	case cli.CommandSay:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandSay, Text: parsed.Text()})
	case cli.CommandRecord:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandRecord, Member: parsed.Text()})
	case cli.CommandPlay:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandPlay, Member: parsed.Text()})
	case cli.CommandStop:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandStop})
	case cli.CommandFinish:
		return r.forwardOrFail(ctx, cfg, ipc.Request{Command: ipc.CommandFinish})
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandCleanup(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	manager, err := files.NewManager(config.ExpandPath(cfg.Audio.Dir), logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	removed, err := manager.CleanupOlderThan(ctx, cfg.Audio.Retention())
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	stats, err := manager.Stats()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(r.Stdout, "removed %d files; %d remain (%.1f MB)\n", len(removed), stats.Files, stats.MegaBytes())
	return 0
}

func (r Runner) commandStatus(ctx context.Context, cfg config.Config) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.IPC.Socket)
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandStatus})
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = "unknown"
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, "not running")
	return 0
}

// commandList asks the daemon for counts and reads the database directly when none is running.
func (r Runner) commandList(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if socketPath, err := ipc.ResolveSocketPath(cfg.IPC.Socket); err == nil {
		resp, handled, err := tryForward(ctx, socketPath, ipc.Request{Command: ipc.CommandList})
		if handled {
			if err != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
				return 1
			}
			fmt.Fprintln(r.Stdout, resp.Message)
			return 0
		}
	}

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = db.Close() }()

	counts, err := db.MemberCounts(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(counts) == 0 {
		fmt.Fprintln(r.Stdout, "no messages")
		return 0
	}
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", c.Member, c.Count))
	}
	fmt.Fprintln(r.Stdout, strings.Join(parts, " "))
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, cfg config.Config, req ipc.Request) int {
	socketPath, err := ipc.ResolveSocketPath(cfg.IPC.Socket)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, req)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: muninn daemon is not running\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*store.Store, error) {
	dsn := cfg.Storage.DSN
	if cfg.Storage.Driver == store.DriverSQLite {
		dsn = config.ExpandPath(dsn)
	}
	return store.Open(ctx, store.Config{Driver: cfg.Storage.Driver, DSN: dsn, Debug: cfg.Debug.SQL}, logger)
}

func tryForward(ctx context.Context, socketPath string, req ipc.Request) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, req, 2*time.Second)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", req.Command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
