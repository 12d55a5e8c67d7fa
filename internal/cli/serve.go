package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"MissionCore/internal/platform/otel"
	"MissionCore/internal/server"
)

const serviceName = "missioncore"

type serveFlags struct {
	configPath    string
	addr          string
	tables        []string
	sqlitePath    string
	flushInterval time.Duration
	epsilon       float64
}

// overrides converts the flags the user actually set into config overrides.
func (f *serveFlags) overrides(cmd *cobra.Command) server.Overrides {
	var o server.Overrides
	flags := cmd.Flags()
	if flags.Changed("addr") {
		o.Addr = &f.addr
	}
	if flags.Changed("tables") {
		o.TableFiles = &f.tables
	}
	if flags.Changed("sqlite") {
		o.SQLitePath = &f.sqlitePath
	}
	if flags.Changed("flush-interval") {
		o.FlushInterval = &f.flushInterval
	}
	if flags.Changed("epsilon") {
		o.Epsilon = &f.epsilon
	}
	return o
}

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	return newServeCmd(&serveFlags{})
}

func newServeCmd(f *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mission tracking server",
		Long: `Load mission tables and serve the HTTP API and websocket stream.

Configuration is layered: built-in defaults, then the YAML config file,
then MISSION_* environment variables, then flags.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(f.configPath, f.overrides(cmd))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown, err := otel.Setup(ctx, serviceName, cfg.OtelEndpoint)
			if err != nil {
				return fmt.Errorf("setup tracing: %w", err)
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					log.Printf("[app] tracing shutdown: %v", err)
				}
			}()

			app, err := server.NewApp(ctx, cfg, log.Default())
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(context.Background()); err != nil {
					log.Printf("[app] close: %v", err)
				}
			}()
			return app.Serve(ctx)
		},
	}

	def := server.DefaultConfig()
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "configs/server.yaml", "path to the server config file")
	cmd.Flags().StringVar(&f.addr, "addr", def.Addr, "address to listen on (e.g., 127.0.0.1:8080)")
	cmd.Flags().StringSliceVar(&f.tables, "tables", def.TableFiles, "mission table YAML files, loaded in order")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite", "", "SQLite database for stored tables and progress")
	cmd.Flags().DurationVar(&f.flushInterval, "flush-interval", def.FlushInterval, "how often rooms flush mission changes")
	cmd.Flags().Float64Var(&f.epsilon, "epsilon", def.Epsilon, "minimum delay in seconds before a transition is deferred")
	return cmd
}
