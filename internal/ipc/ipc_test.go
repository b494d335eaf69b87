package ipc

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSocketPathOverride(t *testing.T) {
	t.Setenv("GUESTCLIP_SOCKET", "/tmp/custom.sock")
	if got := SocketPath(); got != "/tmp/custom.sock" {
		t.Fatalf("SocketPath() = %q", got)
	}
}

func TestDialRejectsUnknownNetwork(t *testing.T) {
	if _, err := Dial(context.Background(), "carrier-pigeon", "x"); err == nil {
		t.Fatal("Dial accepted an unknown network")
	}
	if _, err := Listen("carrier-pigeon", "x"); err == nil {
		t.Fatal("Listen accepted an unknown network")
	}
}

func TestStatusSocketRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("status endpoint is a named pipe on Windows")
	}
	// t.TempDir paths can exceed the sun_path limit on macOS.
	dir, err := os.MkdirTemp("", "gc")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("GUESTCLIP_SOCKET", filepath.Join(dir, "s.sock"))

	if IsRunning() {
		t.Fatal("IsRunning() = true before listening")
	}
	ln, err := ListenStatus()
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	if !IsRunning() {
		t.Fatal("IsRunning() = false while listening")
	}
}
