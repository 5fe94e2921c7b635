package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd(current func() *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve guarded pages and session metrics",
		Long: `Serve a page host on --addr. Every page goes through the route guard:
protected pages redirect to the login path while signed out, auth-only pages
redirect to the landing path while signed in. Metrics are served on /metrics.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			a := current()
			server := &http.Server{
				Addr:              addr,
				Handler:           a.pageHandler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errs := make(chan error, 1)
			go func() { errs <- listenAndServe(server) }()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(stop)
			select {
			case err := <-errs:
				return err
			case <-stop:
			}
			return shutdown(server)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	return cmd
}

func (a *app) pageHandler() http.Handler {
	pages := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := a.manager.Snapshot()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if s.User != nil {
			fmt.Fprintf(w, "%s\nsigned in as %s\n", r.URL.Path, s.User.Email)
			return
		}
		fmt.Fprintf(w, "%s\n", r.URL.Path)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/", chainMiddleware(pages,
		a.recoverMiddleware,
		a.loggingMiddleware,
		frameSecurityMiddleware,
		a.guard.Middleware(a.manager),
	))
	return mux
}

// chainMiddleware wraps h so that mw[0] sees the request first.
func chainMiddleware(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	chained := h
	// Apply middleware in reverse order
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

func (a *app) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (a *app) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.config.GetEnv() != "DEV" {
			next.ServeHTTP(w, r)
			return
		}
		a.logger.Info().Str("method", r.Method).Str("status", a.manager.Snapshot().Status.String()).Msg(r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func frameSecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent embedding on other sites
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "server.ListenAndServe")
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server.Shutdown")
	}
	return nil
}
