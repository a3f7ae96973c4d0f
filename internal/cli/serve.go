package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thinkelution/devlution/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API",
	Long: `Serve runs, audit entries and gate decisions over HTTP.

  GET  /api/runs                       list runs (?status=)
  GET  /api/runs/:id                   one run
  GET  /api/runs/:id/audit             audit entries (?last=)
  GET  /api/runs/:id/events            server-sent audit events
  POST /api/runs/:id/gates/:gate       {"decision":"approved","approver":"..."}
  POST /api/slack/interactions         gate buttons (needs slack.signing_secret)
  GET  /metrics                        prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		a, err := newApp(cmd, appOpts{dryRun: dryRun})
		if err != nil {
			return err
		}
		defer a.close()

		port, _ := cmd.Flags().GetInt("port")
		if !cmd.Flags().Changed("port") && a.cfg.Server.Port > 0 {
			port = a.cfg.Server.Port
		}
		srvOpts := []server.Option{server.WithLogger(a.logger)}
		if secret := a.cfg.Integrations.Slack.SigningSecret; secret.IsSet() {
			srvOpts = append(srvOpts, server.WithSlackSigningSecret(secret.Value()))
		}
		srv := server.New(a.orch, port, srvOpts...)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().Int("port", 8080, "Port to listen on (defaults to server.port)")
	serveCmd.Flags().Bool("dry-run", false, "Resume gated runs with offline stub agents")
}
