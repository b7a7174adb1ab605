package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfsstats/logging"
	"tidbyt.dev/gtfsstats/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves feed stats over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

var addr string

func init() {
	serveCmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
}

func serve(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if cmd.Flags().Changed("addr") {
		a.cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed, err := a.load(ctx)
	if err != nil {
		return err
	}

	start, end, err := a.cfg.Stats.HeadwayWindow()
	if err != nil {
		return err
	}

	srv := server.New(feed, server.Options{
		TripStats:    a.tripStatsOptions(),
		HeadwayStart: start,
		HeadwayEnd:   end,
		Freq:         a.cfg.Stats.Freq,
		Logger:       a.logger,
		Metrics:      a.metrics,
	})

	if a.cfg.Feed.URL != "" && a.cfg.Feed.RefreshInterval > 0 {
		go a.refresh(ctx, srv)
	}

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logging.LogOperation(a.logger, "server_started", slog.String("addr", a.cfg.Server.Addr))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logging.LogOperation(a.logger, "server_stopped")
	return nil
}

// refresh reloads the feed every refresh interval. The manager
// only downloads once the stored copy is stale.
func (a *app) refresh(ctx context.Context, srv *server.Server) {
	ticker := time.NewTicker(a.cfg.Feed.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			feed, err := a.load(ctx)
			if err != nil {
				logging.LogError(a.logger, "refreshing feed", err)
				continue
			}
			srv.SetFeed(feed)
		}
	}
}
