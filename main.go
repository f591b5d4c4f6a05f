package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ytbatch-uploader/internal/config"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg)
	if err := app.startup(ctx); err != nil {
		return err
	}
	defer app.shutdown(context.Background())

	return cmd(ctx, app, args[1:])
}

// serveMetrics exposes the worker metrics until ctx is done
func serveMetrics(ctx context.Context, app *App) {
	if app.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              app.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("Serving metrics on %s/metrics", app.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: Metrics server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: Metrics server shutdown: %v", err)
		}
	}()
}

func printUsage() {
	fmt.Println("ytbatch: scheduled batch uploads to YouTube")
	fmt.Println()
	fmt.Println("Worker:")
	fmt.Println("  worker           process pending jobs until interrupted")
	fmt.Println()
	fmt.Println("Credentials:")
	fmt.Println("  login            store a refresh token for a user")
	fmt.Println()
	fmt.Println("Jobs:")
	fmt.Println("  submit           create a job from a CSV manifest")
	fmt.Println("  list             list jobs")
	fmt.Println("  get              show one job with per-video progress")
	fmt.Println("  stats            aggregate job and video counts")
	fmt.Println("  pause | resume   pause or resume a pending job")
	fmt.Println("  cancel           remove an unfinished job")
	fmt.Println("  delete           remove a finished job")
	fmt.Println("  delete-terminal  remove every finished job")
	fmt.Println("  retry            requeue the failed videos of a job")
	fmt.Println("  notes            replace the notes of a job")
	fmt.Println()
	fmt.Println("Run '<command> -h' for the flags of a command.")
}
