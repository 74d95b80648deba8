// Package toolexec runs the external programs the pipeline depends on
// (djvulibre, ImageMagick, tesseract, file managers).
//
// Commands are started at the lowest scheduling priority. Job cancellation
// is observed only before a command begins; a started command runs to
// completion unless the runner's Kill context ends.
package toolexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/wudi/pagegrab/observability"
)

// Runner executes a single argument vector.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, name string, args ...string) error

func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) error {
	return f(ctx, name, args...)
}

// ExitError reports a command that ran but did not exit cleanly.
type ExitError struct {
	Argv   []string
	Err    error
	Output string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %v", strings.Join(e.Argv, " "), e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// NiceRunner runs commands through `nice -n 19` where available.
type NiceRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir    string
	Logger observability.Logger
	// Plain disables the nice prefix.
	Plain bool
	// Kill, when it ends, terminates any running command. It is separate
	// from the per-call context, which only stops commands from starting.
	Kill context.Context
}

// killGrace bounds the wait for output pipes after a command is killed.
const killGrace = 2 * time.Second

// maxOutput bounds how much tool output is kept for error messages.
const maxOutput = 512

func (r *NiceRunner) Run(ctx context.Context, name string, args ...string) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	argv := r.argv(name, args)
	log := observability.OrNop(r.Logger)
	log.Debug("run tool", observability.String("argv", strings.Join(argv, " ")))

	// the call's ctx is not attached: a started tool runs to completion
	// unless Kill ends
	var cmd *exec.Cmd
	if r.Kill != nil {
		cmd = exec.CommandContext(r.Kill, argv[0], argv[1:]...)
		cmd.WaitDelay = killGrace
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		text := strings.TrimSpace(out.String())
		if len(text) > maxOutput {
			text = text[:maxOutput]
		}
		return &ExitError{Argv: argv, Err: err, Output: text}
	}
	return nil
}

func (r *NiceRunner) argv(name string, args []string) []string {
	out := make([]string, 0, len(args)+4)
	if !r.Plain && runtime.GOOS != "windows" {
		out = append(out, "nice", "-n", "19")
	}
	out = append(out, name)
	return append(out, args...)
}

// Missing returns the names that cannot be found on PATH.
func Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	return missing
}

// ErrNoFileManager is returned when no known file manager is installed.
var ErrNoFileManager = errors.New("toolexec: no file manager found")

var linuxFileManagers = []string{"nautilus", "konqueror", "Thunar", "pcmanfm", "xdg-open"}

// FileManager returns the program used to open a directory for browsing.
func FileManager() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "open", nil
	case "windows":
		return "explorer", nil
	}
	for _, fm := range linuxFileManagers {
		if _, err := exec.LookPath(fm); err == nil {
			return fm, nil
		}
	}
	return "", ErrNoFileManager
}

// OpenDirectory shows dir in the platform file manager.
func OpenDirectory(ctx context.Context, dir string) error {
	fm, err := FileManager()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, fm, dir)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s with %s: %w", dir, fm, err)
	}
	go cmd.Wait()
	return nil
}

// URLOpener returns the program and leading arguments that open a URL in
// the user's browser.
func URLOpener() ([]string, error) {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}, nil
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}, nil
	}
	if _, err := exec.LookPath("xdg-open"); err != nil {
		return nil, ErrNoBrowser
	}
	return []string{"xdg-open"}, nil
}

// ErrNoBrowser is returned when no way to open a URL is installed.
var ErrNoBrowser = errors.New("toolexec: no url opener found")

// OpenURL shows u in the default browser without waiting for it.
func OpenURL(ctx context.Context, u string) error {
	argv, err := URLOpener()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, argv[0], append(argv[1:], u)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", u, err)
	}
	go cmd.Wait()
	return nil
}
