package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"linkreload/internal/logging"
)

// devServerRunner serves the dev server on an open listener until stop ends
// or Serve fails. The reload session is closed before the HTTP server drains
// so no reload cycle fires into clients that are disconnecting.
type devServerRunner struct {
	server          *http.Server
	listener        net.Listener
	session         interface{ Close() error }
	logger          *logging.Logger
	shutdownTimeout time.Duration
}

func (runner *devServerRunner) run(stop context.Context) error {
	served := make(chan error, 1)
	go func() {
		served <- runner.server.Serve(runner.listener)
	}()

	var serveErr error
	exited := false
	select {
	case serveErr = <-served:
		exited = true
	case <-stop.Done():
	}
	if unexpected(serveErr) {
		runner.logError("devserver stopped", serveErr)
	}

	if runner.session != nil {
		if err := runner.session.Close(); err != nil {
			runner.logWarn("reload session close failed", err)
		}
	}

	timeout := runner.shutdownTimeout
	if timeout <= 0 {
		timeout = httpServerShutdownTimeout
	}
	shutdownContext, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := runner.server.Shutdown(shutdownContext); err != nil {
		runner.logWarn("devserver shutdown failed", err)
	}
	if !exited {
		select {
		case err := <-served:
			if unexpected(err) {
				runner.logError("devserver stopped", err)
			}
		case <-shutdownContext.Done():
		}
	}

	if unexpected(serveErr) {
		return fmt.Errorf("devserver: %w", serveErr)
	}
	return nil
}

func unexpected(err error) bool {
	return err != nil && !errors.Is(err, http.ErrServerClosed)
}

func (runner *devServerRunner) logError(message string, err error) {
	if runner.logger == nil {
		return
	}
	runner.logger.Error(message, map[string]string{
		"error": err.Error(),
	})
}

func (runner *devServerRunner) logWarn(message string, err error) {
	if runner.logger == nil {
		return
	}
	runner.logger.Warn(message, map[string]string{
		"error": err.Error(),
	})
}
