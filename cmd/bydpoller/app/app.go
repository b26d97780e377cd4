package app

import (
	"fmt"
	"sync/atomic"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/jkaberg/hass-byd-vehicle/cmd/bydpoller/app/options"
	"github.com/jkaberg/hass-byd-vehicle/internal/agent"
	"github.com/jkaberg/hass-byd-vehicle/pkg/app"
	"github.com/jkaberg/hass-byd-vehicle/pkg/log"
)

const (
	commandName = "bydpoller"
	commandDesc = `bydpoller keeps BYD vehicle telemetry and GPS state fresh with
adaptive polling, publishes updates to MQTT and Redis, and accepts remote
commands over MQTT and HTTP.`
)

func NewApp() *app.App {
	opts := options.NewPollerOptions()
	var running atomic.Pointer[agent.Agent]
	application := app.NewApp(
		commandName,
		"Launch the BYD vehicle polling coordinator",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(reload(&running)),
		app.WithSubcommands(newStatusCommand(), newHealthCommand()),
		app.WithRunFunc(run(opts, &running)),
	)
	return application
}

func run(opts *options.PollerOptions, running *atomic.Pointer[agent.Agent]) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		a, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}
		running.Store(a)
		defer running.Store(nil)

		return a.Run(ctx)
	}
}

// reload applies a changed configuration file to the running agent. The
// log level and the reloadable poll settings take effect immediately.
func reload(running *atomic.Pointer[agent.Agent]) app.ReloadFunc {
	return func() error {
		a := running.Load()
		if a == nil {
			return nil
		}
		fresh := options.NewPollerOptions()
		if err := app.Decode(fresh); err != nil {
			return err
		}
		if err := log.SetLevel(fresh.Log.Level); err != nil {
			return err
		}
		cfg, err := fresh.Config()
		if err != nil {
			return err
		}
		return a.Reload(cfg)
	}
}
