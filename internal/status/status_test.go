package status

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/guestclip/internal/mirror"
)

func TestTrackerHealthFollowsSession(t *testing.T) {
	tr := NewTracker("dev", "vm", "in-memory")
	ctx := t.Context()
	check := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		resp, err := tr.Health().Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
		if err != nil {
			t.Fatal(err)
		}
		if resp.GetStatus() != want {
			t.Fatalf("health = %s, want %s", resp.GetStatus(), want)
		}
	}

	check(healthpb.HealthCheckResponse_NOT_SERVING)
	tr.SetConnected()
	check(healthpb.HealthCheckResponse_SERVING)
	tr.SetFailed("host went away")
	check(healthpb.HealthCheckResponse_NOT_SERVING)

	tr.SetFailed("second reason")
	if got := tr.Snapshot().Failed; got != "host went away" {
		t.Fatalf("Failed = %q, want the first reason", got)
	}
}

func TestSnapshotReadsCounters(t *testing.T) {
	tr := NewTracker("dev", "vm", "in-memory")
	tr.SetCounters(func() mirror.Stats {
		return mirror.Stats{Pushed: 3, Applied: 2, WriteFailures: 1}
	})
	snap := tr.Snapshot()
	if snap.Pushed != 3 || snap.Applied != 2 || snap.WriteFailures != 1 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
}

func TestRender(t *testing.T) {
	body, err := Render(Snapshot{
		Version:   "1.2.3",
		Source:    "vm",
		Host:      "10.0.0.1:8753",
		Started:   time.Now(),
		Joined:    true,
		Connected: true,
		Pushed:    7,
	})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("body is not JSON: %v\n%s", err, body)
	}
	for key, want := range map[string]any{
		"version":      "1.2.3",
		"host":         "10.0.0.1:8753",
		"chain_joined": true,
		"serving":      true,
		"pushed":       float64(7),
		"failed":       "",
	} {
		if got[key] != want {
			t.Errorf("%s = %v, want %v", key, got[key], want)
		}
	}
}

func TestServerBothProtocolsOnOneListener(t *testing.T) {
	tr := NewTracker("dev", "vm", "in-memory")
	srv, err := NewServer(tr, nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, ln) }()

	addr := ln.Addr().String()
	c, err := NewClient(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 5*time.Second)
	defer reqCancel()

	st, err := c.Check(reqCtx)
	if err != nil {
		t.Fatal(err)
	}
	if st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("health before connect = %s", st)
	}

	tr.SetChain(true)
	tr.SetHost("host:1")
	tr.SetConnected()
	if st, err = c.Check(reqCtx); err != nil || st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health after connect = %s, %v", st, err)
	}

	details, err := c.Details(reqCtx)
	if err != nil {
		t.Fatal(err)
	}
	if details["connected"] != true || details["host"] != "host:1" || details["source"] != "vm" {
		t.Fatalf("details = %v", details)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
