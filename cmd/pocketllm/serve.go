package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pocketllm/internal/engine"
	"pocketllm/internal/httpapi"
	"pocketllm/internal/progress"
	"pocketllm/internal/session"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, corsOrigins, open string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Example: "  pocketllm serve --addr :8080\n" +
			"  pocketllm serve --open default --cors-origins '*'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Addr = addr
			}
			if corsOrigins != "" {
				a.cfg.CORSEnabled = true
				a.cfg.CORSOrigins = strings.Split(corsOrigins, ",")
			}
			return a.serve(cmd.Context(), open)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default :8080 or POCKETLLM_ADDR)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed origins; enables CORS")
	cmd.Flags().StringVar(&open, "open", "", "Profile whose model is opened at startup")
	return cmd
}

func (a *app) serve(ctx context.Context, openProfile string) error {
	store, err := a.store()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loop := progress.StartLoop()
	defer loop.Close()
	bus := session.NewBroadcaster()
	sess, err := session.New(session.Config{
		Engine:    a.newEngine(a.cfg, a.log),
		Executor:  loop,
		Publisher: bus,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}
	sess.SetProgressListener(progress.ListenerFunc(func(f float64) {
		a.log.Debug().Float64("fraction", f).Msg("download progress")
	}))

	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(a.cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeout(time.Duration(a.cfg.GenerateTimeoutSeconds) * time.Second)
	httpapi.SetCORSOptions(a.cfg.CORSEnabled, a.cfg.CORSOrigins, nil, nil)

	mux := httpapi.NewMux(httpapi.Deps{
		Profiles:       store,
		Session:        sess,
		Events:         bus,
		ModelsDir:      a.cfg.ModelsDir,
		DefaultProfile: a.cfg.DefaultProfile,
		Started:        time.Now(),
	})
	srv := &http.Server{Addr: a.cfg.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	if openProfile != "" {
		go func() {
			c, err := store.LoadOrDefault(openProfile)
			if err != nil {
				a.log.Error().Err(err).Str("profile", openProfile).Msg("open at startup")
				return
			}
			if _, err := sess.Prepare(ctx, c.ModelURL, a.cfg.ModelsDir, c.Parameters()); err != nil {
				a.log.Error().Err(err).Str("profile", openProfile).Msg("open at startup")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().
			Str("addr", a.cfg.Addr).
			Str("profiles_dir", a.cfg.ProfilesDir).
			Str("models_dir", a.cfg.ModelsDir).
			Bool("llama", engine.Built()).
			Msg("pocketllm listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := sess.Close(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("session close")
	}
	return nil
}
