package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"transmute/internal/apihandlers"
	"transmute/internal/app"
	"transmute/internal/removal"
)

var (
	serveAddr       string
	servePort       int
	shutdownTimeout time.Duration
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:         "serve",
	Short:       "Run the conversion HTTP API server",
	Annotations: needsApp(),
	Long: `Starts the HTTP API together with the queue's liveness monitor, the
periodic cleanup janitor and, when Redis is reachable, the asynq worker that
performs deferred removals after downloads.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			appInstance.Config.Server.Addr = serveAddr
		}
		if cmd.Flags().Changed("port") {
			appInstance.Config.Server.Port = servePort
		}
		return runServer(cmd.Context(), appInstance)
	},
}

func runServer(parent context.Context, a *app.App) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if log.GetLevel() < log.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              a.Config.ListenAddr(),
		Handler:           apihandlers.NewRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.WithField("addr", srv.Addr).Info("Starting transmute API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to run API server: %w", err)
		}
		return nil
	})

	if a.UsesAsynq() {
		worker := removal.NewServer(a.RedisOpt(), a.Logger.WithField("component", "removal"))
		mux := asynq.NewServeMux()
		removal.RegisterHandlers(mux, a.Queue, a.Logger.WithField("component", "removal"))
		if err := worker.Start(mux); err != nil {
			return fmt.Errorf("could not start removal worker: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			worker.Shutdown()
			return nil
		})
	}

	a.Janitor.Start()

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutdown signal received. Initiating graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := a.Janitor.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("janitor stop: %w", err))
		}
		if err := a.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	if err == nil {
		a.Logger.Info("Server gracefully stopped.")
	}
	return err
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (overrides server.addr)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides server.port)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "How long to wait for running conversions on shutdown")
}
