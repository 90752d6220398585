// SPDX-License-Identifier: MIT

// Package forkkeeper contains the Cobra command tree for the forkkeeper CLI.
package forkkeeper

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/skaphos/forkkeeper/internal/cliio"
	"github.com/skaphos/forkkeeper/internal/config"
	"github.com/skaphos/forkkeeper/internal/credentials"
	"github.com/skaphos/forkkeeper/internal/engine"
	"github.com/skaphos/forkkeeper/internal/logging"
	"github.com/skaphos/forkkeeper/internal/registry"
	"github.com/skaphos/forkkeeper/internal/vcs"
)

var (
	// Global flags
	flagVerbose int
	flagQuiet   bool
	flagConfig  string
	flagNoColor bool
	// colorOutputEnabled is set per command execution based on output format and TTY detection.
	colorOutputEnabled bool
	// exitCode tracks the highest severity observed during a command run.
	exitCode int
	// isTerminalFD is overridable in tests.
	isTerminalFD = term.IsTerminal
	// exitFunc is overridable in tests.
	exitFunc = os.Exit
	// newAdapter is overridable in tests.
	newAdapter = func() vcs.Adapter { return vcs.NewGitAdapter(nil) }
	// newConsole is overridable in tests.
	newConsole = func(cmd *cobra.Command) *cliio.Console {
		c := cliio.NewConsole(flagNoColor, flagQuiet)
		c.In = cmd.InOrStdin()
		c.Out = cmd.OutOrStdout()
		c.Err = cmd.ErrOrStderr()
		return c
	}
)

var rootCmd = &cobra.Command{
	Use:   "forkkeeper",
	Short: "Keep course repository forks in sync with their upstream templates",
	Long: "forkkeeper keeps a student's copies of course repositories current: it merges new upstream template " +
		"commits into each fork without losing local work, resolves conflicts with a keep-your-changes bias, " +
		"and recovers a working copy whose remote history was rewritten.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// `NO_COLOR` is a standard opt-out and should behave like --no-color.
		if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
			flagNoColor = true
		}
	},
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&flagVerbose, "verbose", "v", "increase output verbosity (repeatable)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "override config file path")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	exitFunc(ExecuteWithExitCode())
}

// ExecuteWithExitCode runs the root command and returns a shell-friendly exit code.
func ExecuteWithExitCode() int {
	exitCode = 0
	colorOutputEnabled = false
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "error:", err)
		return 3
	}
	return exitCode
}

func raiseExitCode(code int) {
	// Keep the highest severity: 0 success, 1 warning, 2 error, 3 fatal.
	if code > exitCode {
		exitCode = code
	}
}

func infof(cmd *cobra.Command, format string, args ...any) {
	if flagQuiet {
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func debugf(cmd *cobra.Command, format string, args ...any) {
	if flagQuiet || flagVerbose <= 0 {
		return
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func setColorOutputMode(cmd *cobra.Command, format string) {
	colorOutputEnabled = shouldUseColorOutput(cmd, format)
}

func shouldUseColorOutput(cmd *cobra.Command, format string) bool {
	if flagNoColor || !isTabularFormat(format) {
		return false
	}
	file, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return false
	}
	return isTerminalFD(int(file.Fd()))
}

func isTabularFormat(format string) bool {
	return strings.EqualFold(strings.TrimSpace(format), "table")
}

// session is the per-command wiring of config, registry and engine.
type session struct {
	cfgPath string
	cfg     *config.Config
	console *cliio.Console
	store   *credentials.Store
	log     *slog.Logger
	engine  *engine.Engine
}

func loadSession(cmd *cobra.Command) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfgPath, err := config.ResolveConfigPath(flagConfig, cwd)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}
	debugf(cmd, "using config %s", cfgPath)
	if cfg.Registry == nil {
		cfg.Registry = &registry.Registry{}
	}

	log := logging.New(cmd.ErrOrStderr(), logging.LevelForVerbosity(flagVerbose, flagQuiet), flagNoColor)
	console := newConsole(cmd)
	store := credentials.NewStore(config.TokenPath(cfgPath, cfg))
	provider := credentials.NewProvider(store, console)

	eng := engine.New(cfg, cfg.Registry, engine.Deps{
		Adapter:     newAdapter(),
		Credentials: provider,
		UI:          console,
		Progress:    console,
		Log:         log,
	})
	return &session{cfgPath: cfgPath, cfg: cfg, console: console, store: store, log: log, engine: eng}, nil
}

func (rt *session) save() error {
	if rt.cfg.RegistryPath == "" {
		rt.cfg.RegistryPath = "registry.yaml"
	}
	return config.Save(rt.cfg, rt.cfgPath)
}
