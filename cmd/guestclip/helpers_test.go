package main

import (
	"bytes"
	"strings"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestIsContainerID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"3f2a9c1b7d4e", true},
		{"3f2a9c1b7d4e3f2a9c1b7d4e3f2a9c1b7d4e3f2a9c1b7d4e3f2a9c1b7d4e3f2a", true},
		{"devbox", false},
		{"3F2A9C1B7D4E", false},
		{"3f2a9c1b", false},
	}
	for _, tt := range tests {
		if got := isContainerID(tt.in); got != tt.want {
			t.Errorf("isContainerID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestDefaultSourceFromEnv(t *testing.T) {
	t.Setenv("GUESTCLIP_SOURCE", "build-vm")
	if got := defaultSource(); got != "build-vm" {
		t.Fatalf("defaultSource() = %q", got)
	}
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, healthpb.HealthCheckResponse_SERVING, map[string]any{
		"source": "vm",
		"failed": "",
		"pushed": float64(4),
	})
	out := buf.String()
	for _, want := range []string{"Health:", "SERVING", "failed:", "-", "pushed:", "4", "source:", "vm"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "failed:") > strings.Index(out, "source:") {
		t.Errorf("keys not sorted:\n%s", out)
	}
}
