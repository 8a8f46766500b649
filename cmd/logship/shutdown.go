// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"
)

// relaySignals turns termination signals into the two shutdown
// stages: the first calls stopIngest so input ends and pending
// segments drain, the second calls stopDelivery so retries are
// abandoned and their segments retained. It returns after the second
// signal or once done is closed.
func relaySignals(signals <-chan os.Signal, done <-chan struct{}, stopIngest, stopDelivery func(), logger *slog.Logger) {
	select {
	case received := <-signals:
		logger.Info("received signal, finishing pending deliveries", "signal", received.String())
		stopIngest()
	case <-done:
		return
	}
	select {
	case received := <-signals:
		logger.Warn("received second signal, abandoning retries", "signal", received.String())
		stopDelivery()
	case <-done:
	}
}

// stopOnFatal calls stopIngest when fatal closes before done. Input
// stops promptly instead of retaining every later segment.
func stopOnFatal(fatal <-chan struct{}, cause func() error, done <-chan struct{}, stopIngest func(), logger *slog.Logger) {
	select {
	case <-fatal:
		logger.Error("stopping input: deliveries cannot succeed", "error", cause())
		stopIngest()
	case <-done:
	}
}
