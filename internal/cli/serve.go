package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prasetya/mika/internal/config"
	"github.com/prasetya/mika/pkg/gateway"
	"github.com/prasetya/mika/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway",
	Long: `Serve starts the websocket gateway so remote clients can drive
sessions over a socket. Session maintenance runs on its schedule, and
the config file is watched for live changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := buildRunner()
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.cfg.Gateway.Enabled {
		return fmt.Errorf("gateway is disabled: set gateway.enabled in the config")
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:         app.cfg.Gateway.Host,
		Port:         app.cfg.Gateway.Port,
		SharedSecret: app.cfg.Gateway.SharedSecret,
		Runner:       app.runner,
		Store:        app.store,
		Logger:       app.log.Logger,

		DefaultModel:    app.cfg.Model.Default,
		DefaultProvider: app.defaultProvider(),
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "gateway listening on %s\n", srv.Addr())

	maintenance := session.NewMaintenance(
		app.store,
		time.Duration(app.cfg.Sessions.RetentionDays)*24*time.Hour,
		app.cfg.Sessions.MaxMessages,
		app.cfg.Sessions.CleanupSchedule,
	)
	if err := maintenance.Start(); err != nil {
		app.log.Warn().Err(err).Msg("Session maintenance not started")
	} else {
		defer maintenance.Stop()
	}

	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), func(cfg *config.Config) {
		applyLiveConfig(app, cfg)
	})
	if err == nil {
		if err := watcher.Start(); err != nil {
			app.log.Warn().Err(err).Msg("Config watcher not started")
		} else {
			defer watcher.Stop()
		}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// applyLiveConfig applies the reloadable subset of a changed config:
// log level only, for now. Structural settings need a restart.
func applyLiveConfig(app *app, cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
		app.log.Info().Str("level", cfg.Logging.Level).Msg("Log level updated")
	}
}
