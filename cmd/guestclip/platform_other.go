//go:build !windows

package main

import (
	"context"

	"go.klb.dev/guestclip/internal/chain"
	"go.klb.dev/guestclip/internal/clip"
)

// newPlatform returns an in-process chain driven by the backend's change
// signal. These systems have no viewer chain of their own.
func newPlatform(ctx context.Context, backend clip.Backend) (chain.Platform, func()) {
	t := chain.NewTable()
	go chain.Pump(ctx, t, backend.Watch())
	return t, func() {}
}
