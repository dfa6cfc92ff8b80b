package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/server"
	"github.com/sells-group/prospector-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Serves run history, stage artifacts, and the pending-update queue over
HTTP. When adapter credentials are configured the server also accepts new
discovery runs; without them it comes up read-only.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		var (
			st     store.Store
			runner server.Runner
		)
		env, err := initPipeline(ctx, "discover")
		if err == nil {
			defer env.Close()
			st = env.Store
			runner = env.Pipeline
		} else {
			zap.L().Warn("pipeline unavailable, serving read-only", zap.Error(err))
			st, err = openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		srv, err := server.New(st, runner, server.WithAllowedOrigins(cfg.Server.AllowedOrigins))
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		zap.L().Info("starting server", zap.Int("port", port))
		return srv.Serve(ctx, fmt.Sprintf(":%d", port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
