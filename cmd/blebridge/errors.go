package main

import (
	"context"
	"errors"

	"github.com/srg/blebridge/internal/radio"
	"github.com/srg/blebridge/internal/router"
)

// formatUserError rewrites well-known failures into messages that make
// sense without reading the source.
func formatUserError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.Is(err, radio.ErrDiscoveryTimeout):
		return "connected, but the device did not answer service discovery in time"
	case errors.Is(err, router.ErrBusy):
		return "another BLE operation is in progress, try again shortly"
	default:
		return err.Error()
	}
}
