// SPDX-License-Identifier: MIT

// Package cliio is the terminal side of forkkeeper: prompts, progress lines
// and tables.
package cliio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/skaphos/forkkeeper/internal/interact"
	"github.com/skaphos/forkkeeper/internal/termstyle"
)

// Console implements interact.UI and interact.Progress on a terminal.
// Messages and progress go to Err so Out stays machine-readable.
type Console struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Color enables ANSI colour on message prefixes.
	Color bool
	// Quiet drops progress and informational messages.
	Quiet bool
	// Forms uses huh selection forms; false falls back to numbered prompts.
	Forms bool
	// Editor overrides $VISUAL and $EDITOR for OpenFile.
	Editor string

	mu     sync.Mutex
	reader *bufio.Reader
}

var (
	_ interact.UI       = (*Console)(nil)
	_ interact.Progress = (*Console)(nil)
)

// NewConsole returns a Console on the process streams. Forms are used only
// when both stdin and stderr are terminals.
func NewConsole(noColor, quiet bool) *Console {
	tty := IsTerminal(os.Stdin) && IsTerminal(os.Stderr)
	return &Console{
		In:    os.Stdin,
		Out:   os.Stdout,
		Err:   os.Stderr,
		Color: !noColor && IsTerminal(os.Stderr),
		Quiet: quiet,
		Forms: tty,
	}
}

// IsTerminal reports whether v is a file attached to a terminal.
func IsTerminal(v any) bool {
	f, ok := v.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *Console) ShowMessage(ctx context.Context, level interact.Level, message string, choices ...string) (string, error) {
	if len(choices) == 0 {
		if c.Quiet && level == interact.LevelInfo {
			return "", nil
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := fmt.Fprintf(c.Err, "%s %s\n", c.prefix(level), message)
		return "", err
	}
	if c.Forms {
		return c.selectForm(ctx, level, message, choices)
	}
	return c.selectLine(level, message, choices)
}

func (c *Console) selectForm(ctx context.Context, level interact.Level, message string, choices []string) (string, error) {
	options := make([]huh.Option[string], 0, len(choices))
	for _, choice := range choices {
		options = append(options, huh.NewOption(choice, choice))
	}
	var answer string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(message).
				Description(string(level)).
				Options(options...).
				Value(&answer),
		),
	).WithInput(c.In).WithOutput(c.Err)
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return "", nil
		}
		return "", err
	}
	return answer, nil
}

// selectLine prints numbered choices and accepts a number or a label. An
// empty line or EOF dismisses the prompt.
func (c *Console) selectLine(level interact.Level, message string, choices []string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.Err, "%s %s\n", c.prefix(level), message); err != nil {
		return "", err
	}
	for i, choice := range choices {
		if _, err := fmt.Fprintf(c.Err, "  %d) %s\n", i+1, choice); err != nil {
			return "", err
		}
	}
	for {
		if _, err := fmt.Fprint(c.Err, "Choice: "); err != nil {
			return "", err
		}
		line, err := c.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", nil
		}
		if n, convErr := strconv.Atoi(line); convErr == nil && n >= 1 && n <= len(choices) {
			return choices[n-1], nil
		}
		for _, choice := range choices {
			if strings.EqualFold(line, choice) {
				return choice, nil
			}
		}
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if _, err := fmt.Fprintf(c.Err, "Enter a number between 1 and %d.\n", len(choices)); err != nil {
			return "", err
		}
	}
}

// Input reads one line. Secret input on a terminal is read without echo.
func (c *Console) Input(_ context.Context, prompt string, secret bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.Err, "%s: ", prompt); err != nil {
		return "", err
	}
	if f, ok := c.In.(*os.File); ok && secret && term.IsTerminal(int(f.Fd())) {
		raw, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(c.Err)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}
	line, err := c.readLine()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// OpenFile launches the configured editor on path and waits for it.
func (c *Console) OpenFile(ctx context.Context, path string) error {
	editor := c.editor()
	fields := strings.Fields(editor)
	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], path)...)
	cmd.Stdin = c.In
	cmd.Stdout = c.Err
	cmd.Stderr = c.Err
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("open %s with %s: %w", path, fields[0], err)
	}
	return nil
}

func (c *Console) editor() string {
	for _, candidate := range []string{c.Editor, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return "vi"
}

// Report writes a progress line unless Quiet is set.
func (c *Console) Report(message string) {
	if c.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.Err, "%s %s\n", termstyle.Paint(c.Color, "..", termstyle.Notice), message)
}

func (c *Console) prefix(level interact.Level) string {
	switch level {
	case interact.LevelWarning:
		return termstyle.Paint(c.Color, "warning:", termstyle.Warning)
	case interact.LevelError:
		return termstyle.Paint(c.Color, "error:", termstyle.Failure)
	default:
		return termstyle.Paint(c.Color, "info:", termstyle.OK)
	}
}

func (c *Console) readLine() (string, error) {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}
	return c.reader.ReadString('\n')
}

// PromptYesNo writes prompt and reads a yes/no response from input.
func PromptYesNo(out io.Writer, in io.Reader, prompt string) (bool, error) {
	if _, err := fmt.Fprint(out, prompt); err != nil {
		return false, err
	}
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	choice := strings.ToLower(strings.TrimSpace(line))
	return choice == "y" || choice == "yes", nil
}

