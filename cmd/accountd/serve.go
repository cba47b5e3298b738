package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mai-accounts/accountd/internal/httpapi"

	"github.com/spf13/cobra"
)

func newServeCommand(c *cli) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), c, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply database migrations before serving (postgres only)")
	return cmd
}

func runServe(ctx context.Context, c *cli, migrate bool) error {
	log := c.log.WithField("component", "server")

	rootCtx, cancelRoot := context.WithCancel(ctx)
	defer cancelRoot()

	a, err := newApp(rootCtx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate && a.pg != nil {
		if err := a.pg.Migrate(rootCtx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info("database migrations applied")
	}

	go runMaintenanceLoop(rootCtx, a)

	srv := httpapi.NewServer(httpapi.Deps{
		Config:   c.cfg,
		Accounts: a.accounts,
		Sessions: a.sessions,
		Notices:  a.notices,
		Metrics:  a.metrics,
		Health:   a.health,
		Log:      c.log,
	})

	httpServer := &http.Server{
		Addr:              c.cfg.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", c.cfg.ListenAddr()).Info("accountd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var serveErr error
	select {
	case <-stop:
		log.Info("shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			log.WithError(err).Error("server error")
		}
	}

	// Cancels open admin streams and the maintenance loop before Shutdown
	// waits on them.
	cancelRoot()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	return serveErr
}
