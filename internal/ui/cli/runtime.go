package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	coreapp "graphedit/internal/core/app"
	"graphedit/internal/core/config"
	"graphedit/internal/shared/observability"
	"graphedit/internal/shared/util"
)

const (
	shutdownTimeout = 5 * time.Second
	limiterIdleTTL  = 10 * time.Minute
	prompt          = "graphedit> "
)

// Run is the process entry point; it returns the exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return run(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if opts.version {
		fmt.Fprintf(stdout, "graphedit v%s\n", versionString)
		return 0
	}
	if len(opts.args) > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(opts.args, " "))
		return 2
	}
	if opts.ui && opts.script != "" {
		fmt.Fprintln(stderr, "--ui and --script cannot be combined")
		return 2
	}

	cleanupLogs := configureLogging(opts.ui, opts.verbose, stderr)
	defer cleanupLogs()

	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("failed to detect working directory", "error", err)
		return 1
	}

	cfg, cfgPath, err := loadConfig(opts.configPath, cwd)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	config.ApplyEnvOverrides(cfg)
	if errs := config.Validate(cfg); len(errs) > 0 {
		slog.Error("invalid config after environment overrides", "error", errors.Join(errs...))
		return 1
	}

	paths, err := config.ResolvePaths(cfg, cwd)
	if err != nil {
		slog.Error("failed to resolve runtime paths", "error", err)
		return 1
	}

	if cfg.Observability.Enabled && cfg.Observability.EnableTracing {
		shutdown, err := observability.InitTracing(ctx, cfg.Observability.OTLPEndpoint)
		if err != nil {
			slog.Error("failed to initialize tracing", "error", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	application, err := coreapp.New(ctx, cfg, paths, slog.Default())
	if err != nil {
		slog.Error("failed to open workspace", "error", err, "path", paths.DBPath)
		return 1
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			slog.Warn("workspace close failed", "error", err)
		}
	}()

	if cfgPath != "" {
		watcher := config.NewWatcher(cfgPath, application.ApplyConfig)
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("config watcher unavailable", "error", err, "path", cfgPath)
		} else {
			defer watcher.Stop()
		}
	}

	if cfg.Observability.Enabled {
		addr := fmt.Sprintf(":%d", cfg.Observability.Port)
		limiters := util.NewLimiterRegistry(cfg.API.Rate, cfg.API.Burst, limiterIdleTTL)
		server := NewObservabilityServer(addr, application.Health, application.Editor, limiters, cfg.Observability.EnableMetrics)
		if err := server.Start(ctx); err != nil {
			slog.Error("failed to start observability server", "error", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(sctx); err != nil {
				slog.Warn("observability server shutdown failed", "error", err)
			}
		}()
	}

	session := NewSession(application.Editor, stdout, paths.VaultDir)

	switch {
	case opts.script != "":
		if code := runScript(ctx, session, opts.script, stderr); code != 0 {
			return code
		}
	case opts.ui:
		if err := runUI(ctx, application.Editor); err != nil {
			slog.Error("failed to run UI", "error", err)
			return 1
		}
	case opts.exportVault == "":
		if err := session.Run(ctx, stdin, interactivePrompt(stdin), false); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session ended with error", "error", err)
			return 1
		}
	}

	if opts.exportVault != "" {
		res, err := application.Editor.ExportVault(ctx, config.ResolveRelative(cwd, opts.exportVault))
		if err != nil {
			fmt.Fprintln(stderr, formatError(err))
			return 1
		}
		fmt.Fprintf(stdout, "exported %d note(s) to %s\n", len(res.Written), res.Dir)
	}
	return 0
}

func runScript(ctx context.Context, session *Session, path string, stderr io.Writer) int {
	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(stderr, "open script: %v\n", err)
		return 1
	}
	defer f.Close()

	if err := session.Run(ctx, f, "", true); err != nil {
		fmt.Fprintf(stderr, "%s: %s\n", path, formatError(err))
		return 1
	}
	return 0
}

// interactivePrompt returns a prompt only when reading from a terminal.
func interactivePrompt(in io.Reader) string {
	f, ok := in.(*os.File)
	if !ok {
		return ""
	}
	info, err := f.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		return ""
	}
	return prompt
}

// loadConfig loads an explicit path strictly. With the default path it tries
// the known locations and falls back to built-in defaults; the returned path
// is empty when no file was found.
func loadConfig(path, cwd string) (*config.Config, string, error) {
	if path != defaultConfigPath {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	for _, candidate := range discoverDefaultConfig(cwd) {
		cfg, found, err := config.LoadOrDefault(candidate)
		if err != nil {
			return nil, "", err
		}
		if found {
			return cfg, candidate, nil
		}
	}
	slog.Debug("no config file found, using defaults", "cwd", cwd)
	return config.DefaultConfig(), "", nil
}

func discoverDefaultConfig(cwd string) []string {
	return []string{
		filepath.Clean(filepath.Join(cwd, "data", "config", config.DefaultFileName)),
		filepath.Clean(filepath.Join(cwd, config.DefaultFileName)),
	}
}

func configureLogging(uiMode, verbose bool, stderr io.Writer) func() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}

	// Stdout carries command output, so logs go to stderr.
	output := stderr
	var closeFn func() = func() {}
	if uiMode {
		logPath := resolveLogPath()
		if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
			fmt.Fprintf(stderr, "warning: failed to create log dir for %s: %v\n", logPath, err)
		} else {
			if fi, err := os.Lstat(logPath); err == nil && (fi.Mode()&os.ModeSymlink) != 0 {
				fmt.Fprintf(stderr, "warning: refusing to write logs to symlink path %s\n", logPath)
			} else {
				f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
				if err == nil {
					output = f
					closeFn = func() { _ = f.Close() }
				} else {
					fmt.Fprintf(stderr, "warning: failed to open log file %s: %v\n", logPath, err)
				}
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return closeFn
}

func resolveLogPath() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "graphedit", "graphedit.log")
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		return filepath.Join(home, ".local", "state", "graphedit", "graphedit.log")
	}

	return "graphedit.log"
}
