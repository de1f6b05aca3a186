package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"call-triage/internal/config"
	"call-triage/internal/contacts"
	"call-triage/internal/playback"
	"call-triage/internal/purge"
	"call-triage/internal/server"
)

type serveOptions struct {
	contacts string
	listen   string
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve [dir]",
		Short: "Serve the triage API on localhost",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := global.load()
			if err != nil {
				return err
			}
			defer func() { _ = rt.logger.Sync() }()
			return runServe(cmd.Context(), rt, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.contacts, "contacts", "", "contact file (.vcf or .yaml), reloaded on change")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address (localhost only)")
	return cmd
}

func runServe(ctx context.Context, rt *runtime, opts *serveOptions, args []string) error {
	logger := rt.logger

	listenAddr := rt.settings.ListenAddr
	if opts.listen != "" {
		listenAddr = opts.listen
	}
	if err := config.ValidateListenAddr(listenAddr); err != nil {
		return err
	}

	lib := rt.newLibrary(0)
	dir, err := rt.openContacts(opts.contacts, func(*contacts.Directory) {
		changed := lib.Reclassify()
		logger.Info("contacts reloaded", zap.Int("reclassified", changed))
	})
	if err != nil {
		return err
	}
	defer closeContacts(dir, logger)
	if dir != nil {
		lib.SetContacts(dir)
	}

	var root string
	if len(args) > 0 || rt.settings.RecordingsDir != "" {
		root, err = rt.recordingsRoot(args)
		if err != nil {
			return err
		}
		if _, err := lib.Load(ctx, root, nil); err != nil {
			return err
		}
	}

	tracker := playback.NewTracker(logger)
	handler := server.New(server.Options{
		Library:     lib,
		Deleter:     purge.New(lib, purge.Options{Player: tracker, Logger: logger}),
		Tracker:     tracker,
		DefaultRoot: root,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("graceful shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr), zap.String("recordings", root))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
