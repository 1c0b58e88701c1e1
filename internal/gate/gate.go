// Package gate decides whether the assistant may answer an inbound message.
package gate

import (
	"context"
	"log/slog"
)

// StopFlagReader reads the persisted stop flag of a phone number.
type StopFlagReader interface {
	StopFlag(ctx context.Context, phone string) (bool, error)
}

// Gate is the hot-path suppression check. It performs a single read and
// never writes.
type Gate struct {
	flags StopFlagReader
}

// New creates a Gate over flags.
func New(flags StopFlagReader) *Gate {
	return &Gate{flags: flags}
}

// ShouldSuppress reports whether automated replies to phone are suppressed.
// Messages from the authorized group are never suppressed. A failed read is
// treated as not suppressed.
func (g *Gate) ShouldSuppress(ctx context.Context, phone string, authorizedGroup bool) bool {
	if authorizedGroup {
		return false
	}
	stop, err := g.flags.StopFlag(ctx, phone)
	if err != nil {
		slog.Warn("Gate.ShouldSuppress: stop flag read failed, allowing reply", "phone", phone, "error", err)
		return false
	}
	if stop {
		slog.Debug("Gate.ShouldSuppress: bot stopped for phone", "phone", phone)
	}
	return stop
}
