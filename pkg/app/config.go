package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// EnvPrefix derives the environment variable prefix from an application name:
// "bydpoller" reads BYDPOLLER_POLL_INTERVAL for --poll.interval.
func EnvPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func addConfigFlag(name string, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from the specified file, YAML, JSON or TOML.")

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(".")
			if home, err := os.UserHomeDir(); err == nil {
				viper.AddConfigPath(filepath.Join(home, "."+name))
			}
			viper.AddConfigPath(filepath.Join("/etc", name))
			viper.SetConfigName(name)
		}

		viper.SetEnvPrefix(EnvPrefix(name))
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				// The logger is not initialised yet.
				fmt.Fprintf(os.Stderr, "failed to read configuration file %q: %v\n", viper.ConfigFileUsed(), err)
				os.Exit(1)
			}
		}
	})
}

func (a *App) watchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Config file changed", "file", e.Name, "op", e.Op.String())
		if a.onReload == nil {
			return
		}
		if err := a.onReload(); err != nil {
			log.Error(err, "Failed to apply changed configuration, keeping the previous one")
		}
	})
	viper.WatchConfig()
}

// Decode re-reads the current configuration (file, environment and flags)
// into opts, which should be a freshly constructed options tree.
func Decode(opts NamedFlagSetOptions) error {
	if err := viper.Unmarshal(opts); err != nil {
		return err
	}
	if err := opts.Complete(); err != nil {
		return err
	}
	return opts.Validate()
}
