package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jaakkos/sharedstore/internal/config"
	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/lifecycle"
)

const terminateTimeout = 30 * time.Second

// runOptions controls how a command's process is started.
type runOptions struct {
	role      domain.Role
	waitSetup bool // wait for the account check and first sync before running
	lifecycle []lifecycle.Option
}

// withProcess starts a process for the command, runs fn and terminates the
// process, flushing pending changes.
func withProcess(ctx context.Context, opts *RootOptions, ro runOptions, fn func(ctx context.Context, p *lifecycle.Process) error) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	logger := setupLogger(cfg.LogFilePath(), opts.Verbose)

	p, err := lifecycle.Start(ctx, cfg, ro.role, logger, ro.lifecycle...)
	if err != nil {
		return WrapExitError(ExitCommandError, "start", err)
	}
	defer func() {
		termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
		defer cancel()
		if err := p.Terminate(termCtx); err != nil {
			logger.Printf("terminate: %v", err)
		}
	}()

	if ro.waitSetup {
		if err := p.WaitSetup(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, p)
}

// setupLogger writes to logFilePath (unless empty), and to stderr when verbose
// is set or there is no log file.
func setupLogger(logFilePath string, verbose bool) *log.Logger {
	var writers []io.Writer

	hasLogFile := false
	if logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[sharedstore] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[sharedstore] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}

	// Always need at least one output.
	if verbose || !hasLogFile {
		writers = append(writers, os.Stderr)
	}

	return log.New(io.MultiWriter(writers...), "[sharedstore] ", log.LstdFlags|log.Lshortfile)
}
