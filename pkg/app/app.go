package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/cli/globalflag"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

// App is the main structure of a cli application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     NamedFlagSetOptions
	runFunc     RunFunc
	noConfig    bool
	watch       bool
	onReload    ReloadFunc
	args        cobra.PositionalArgs
	commands    []*cobra.Command
	cmd         *cobra.Command
}

// RunFunc is the application's startup callback.
type RunFunc func() error

// ReloadFunc is called after the config file changed on disk and has been
// re-read. It must not mutate the options the application started with.
type ReloadFunc func() error

// Option defines optional parameters for initializing the application structure.
type Option func(*App)

// WithOptions opens the application's function to read from the command line
// or read parameters from the configuration file.
func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the application's startup callback function.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription sets the long description of the application.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithNoConfig disables the --config flag and config file lookup.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// WithWatchConfig watches the config file and calls fn after every change.
func WithWatchConfig(fn ReloadFunc) Option {
	return func(a *App) {
		a.watch = true
		a.onReload = fn
	}
}

// WithValidArgs sets the validation function for positional arguments.
func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) {
		a.args = args
	}
}

// WithDefaultValidArgs rejects any positional argument.
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

// WithSubcommands adds subcommands to the root command.
func WithSubcommands(cmds ...*cobra.Command) Option {
	return func(a *App) {
		a.commands = append(a.commands, cmds...)
	}
}

// NewApp creates a new application instance based on the given application
// name, short description, and other options.
func NewApp(name string, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
	}

	for _, o := range opts {
		o(a)
	}

	a.buildCommand()

	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:   a.name,
		Short: a.shortDesc,
		Long:  a.description,
		// stop printing usage when the command errors
		SilenceUsage: true,
		Args:         a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true
	cmd.AddCommand(a.commands...)

	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	}

	var fss cliflag.NamedFlagSets
	if a.options != nil {
		fss = a.options.Flags()
	}
	if !a.noConfig {
		addConfigFlag(a.name, fss.FlagSet("global"))
	}
	globalflag.AddGlobalFlags(fss.FlagSet("global"), cmd.Name())

	fs := cmd.Flags()
	for _, f := range fss.FlagSets {
		fs.AddFlagSet(f)
	}

	cmd.SetUsageFunc(func(cmd *cobra.Command) error {
		fmt.Fprintf(cmd.OutOrStderr(), "Usage:\n  %s\n", cmd.UseLine())
		cliflag.PrintSections(cmd.OutOrStderr(), fss, 0)
		return nil
	})
	cmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nUsage:\n  %s\n", cmd.Long, cmd.UseLine())
		cliflag.PrintSections(cmd.OutOrStdout(), fss, 0)
	})

	a.cmd = cmd
}

// Run is used to launch the application.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Command returns cobra command instance inside the application.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if a.options != nil {
		if err := viper.BindPFlags(cmd.Flags()); err != nil {
			return err
		}
		if err := viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
		if lo, ok := a.options.(interface{ LogOptions() *log.Options }); ok {
			log.Init(lo.LogOptions())
		}
	}
	defer log.Sync()

	if used := viper.ConfigFileUsed(); used != "" {
		log.Info("Using config file", "file", used)
		if a.watch {
			a.watchConfig()
		}
	}

	return a.runFunc()
}
