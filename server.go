package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type serveOptions struct {
	shutdownTimeout time.Duration
	// listener replaces ListenAndServe when set.
	listener net.Listener
	// onShutdown runs once shutdown starts, before draining HTTP.
	onShutdown func()
}

// serveHTTPServer runs server until it fails or ctx is cancelled, then drains
// in-flight requests within opts.shutdownTimeout. A ctx that is already done
// shuts the server down without serving.
func serveHTTPServer(ctx context.Context, server *http.Server, logger *zap.Logger, opts serveOptions) error {
	if opts.shutdownTimeout <= 0 {
		opts.shutdownTimeout = 15 * time.Second
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if opts.listener != nil {
			err = server.Serve(opts.listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down", zap.NamedError("reason", context.Cause(ctx)))
		if opts.onShutdown != nil {
			opts.onShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
