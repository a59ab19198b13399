// Package app builds cobra commands whose flags come from NamedFlagSetOptions
// and can be overridden by a viper-managed config file and environment.
package app

import (
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"

	"github.com/carthingy/carthingy/pkg/log"
)

// RunFunc is the entry point of a command once options are loaded and valid.
type RunFunc func() error

// Option configures an App.
type Option func(*App)

// App is a cobra command with carthingy's option handling.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	logOptions  *log.Options
	runFunc     RunFunc
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	onChange    func(fsnotify.Event)
	watch       bool

	viper *viper.Viper
	cmd   *cobra.Command
}

// WithDescription sets the long description shown in help output.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions sets the options loaded before any command runs.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

// WithLogOptions initializes the global logger from opts after options are loaded.
// opts is expected to be part of the options passed to WithOptions.
func WithLogOptions(opts *log.Options) Option {
	return func(a *App) { a.logOptions = opts }
}

// WithRunFunc sets the root command's entry point.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithDefaultValidArgs rejects positional arguments on the root command.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithSubCommands adds commands that share the root's options.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.commands = append(a.commands, cmds...) }
}

// WithConfigWatch watches the config file and calls onChange after each change.
func WithConfigWatch(onChange func(fsnotify.Event)) Option {
	return func(a *App) {
		a.watch = true
		a.onChange = onChange
	}
}

// NewApp builds the root command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{name: name, shortDesc: shortDesc, viper: viper.New()}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper returns the configuration source the options were loaded from.
func (a *App) Viper() *viper.Viper {
	return a.viper
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	cfgFile := addConfigFlag(a.name, fss.FlagSet("global"))
	envFile := addEnvFileFlag(fss.FlagSet("global"))
	for _, f := range fss.FlagSets {
		cmd.PersistentFlags().AddFlagSet(f)
	}

	cmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		var target any
		if a.options != nil {
			target = a.options
		}
		if err := loadEnvFile(*envFile); err != nil {
			return err
		}
		if err := loadConfig(a.viper, a.name, *cfgFile, c.Flags(), target); err != nil {
			return err
		}
		if a.logOptions != nil {
			log.Init(a.logOptions)
		}
		if a.options != nil {
			if err := a.options.Complete(); err != nil {
				return err
			}
			if err := a.options.Validate(); err != nil {
				return err
			}
		}
		if a.watch {
			watchConfig(a.viper, a.onChange)
		}
		return nil
	}

	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error { return a.runFunc() }
	}
	cmd.AddCommand(a.commands...)

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, fss, cols)

	a.cmd = cmd
}
