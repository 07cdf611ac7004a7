package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Voyage-Pet-AI/vwork/pkg/commandqueue"
	"github.com/Voyage-Pet-AI/vwork/pkg/gateway"
	"github.com/Voyage-Pet-AI/vwork/pkg/report"
	"github.com/Voyage-Pet-AI/vwork/pkg/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the VWork gateway",
	Long: `Run the local gateway server in the foreground. The gateway serves
the chat websocket, report endpoints, and health checks, and keeps the
report scheduler and transcript cleanup running.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gateway port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logg, err := setup()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}
	defer logg.Close()
	log := logg.Zerolog()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rt.close(log)

	queue := commandqueue.New(log)
	defer queue.Close()

	scheduler := report.NewScheduler(rt.reports, log)
	for _, rep := range cfg.Reports {
		expr := rep.Schedule
		if rep.Timezone != "" {
			expr = "CRON_TZ=" + rep.Timezone + " " + expr
		}
		if _, err := scheduler.Add(expr, rep.Prompt); err != nil {
			return fmt.Errorf("report %s: %w", rep.Name, err)
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	retention := time.Duration(cfg.Transcripts.RetentionDays) * 24 * time.Hour
	cleanup := session.NewCleanup(rt.store, retention, log)
	if err := cleanup.Start(); err != nil {
		return err
	}
	defer cleanup.Stop()

	server, err := gateway.NewServer(gateway.Config{
		Port:           cfg.Gateway.Port,
		SessionFactory: rt.newSession,
		ReportService:  rt.reports,
		Queue:          queue,
		Store:          rt.store,
		Logger:         log,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	log.Info().Int("port", cfg.Gateway.Port).Msg("VWork gateway running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway stopped: %w", err)
		}
	}

	return server.Stop()
}
