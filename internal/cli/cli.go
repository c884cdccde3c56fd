// Package cli implements the ipm command-line interface.
//
// Commands are thin wrappers around [pipeline.Runner]: they parse flags,
// call one runner operation and print the outcome. Failures are returned
// to main, which prints the user message of the error and picks the exit
// code.
//
// # Commands
//
//   - init, tag, build, extract: work on the project descriptor and archives
//   - require, unrequire, update: edit rule-package requirements
//   - add, remove: edit host-language dependencies
//   - lock, check, sync, install: resolve and install
//   - yggdrasil, ledger: manage indexes and inspect the machine ledger
//
// # Logging
//
// All commands support --verbose (-v) for debug-level logging. The logger
// is shared with the runner, so resolution and download events show up
// with the same formatting.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/ipm/pkg/buildinfo"
	"github.com/matzehuels/ipm/pkg/pipeline"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Options collects the global flags. Unset fields fall back to the
	// environment and the pipeline defaults when a runner is created.
	Options pipeline.Options

	dir string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level), dir: "."}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "ipm",
		Short:        "ipm manages rule packages for Infini projects",
		Long:         `ipm resolves, downloads and installs rule packages from yggdrasil indexes and keeps a project's infini.toml and infini.lock in sync.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SetContext(withLogger(cmd.Context(), c.Logger))
		},
	}
	root.SetVersionTemplate(buildinfo.Template())

	flags := root.PersistentFlags()
	flags.StringVarP(&c.dir, "dir", "C", ".", "project directory")
	flags.StringVar(&c.Options.Home, "home", "", "ipm home directory (default $"+pipeline.EnvHome+" or ~/.ipm)")
	flags.StringVar(&c.Options.DefaultIndex, "index", "", "default index URL (default $"+pipeline.EnvIndex+")")
	flags.StringVar(&c.Options.ConflictPolicy, "policy", "", "version conflict policy: first-wins or strict")
	flags.BoolVar(&c.Options.Refresh, "refresh", false, "sync every index instead of reusing fresh snapshots")
	flags.IntVar(&c.Options.Concurrency, "concurrency", 0, "parallel downloads")
	flags.DurationVar(&c.Options.Timeout, "timeout", 0, "timeout of a single HTTP request")

	root.AddCommand(c.initCommand())
	root.AddCommand(c.tagCommand())
	root.AddCommand(c.buildCommand())
	root.AddCommand(c.extractCommand())
	root.AddCommand(c.requireCommand())
	root.AddCommand(c.unrequireCommand())
	root.AddCommand(c.updateCommand())
	root.AddCommand(c.addCommand())
	root.AddCommand(c.removeCommand())
	root.AddCommand(c.lockCommand())
	root.AddCommand(c.checkCommand())
	root.AddCommand(c.syncCommand())
	root.AddCommand(c.installCommand())
	root.AddCommand(c.yggdrasilCommand())
	root.AddCommand(c.ledgerCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Runner Factory
// =============================================================================

// newRunner creates a pipeline runner from the global flags.
func (c *CLI) newRunner() (*pipeline.Runner, error) {
	return pipeline.NewRunner(c.Options.WithDefaults(), c.Logger)
}
