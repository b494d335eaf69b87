package main

import (
	"os"
	"runtime"
)

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this machine.
func defaultSource() string {
	for _, env := range []string{
		"GUESTCLIP_SOURCE",
		"CONTAINER_NAME",
		"COMPUTERNAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := getenv(env); v != "" {
			return v
		}
	}
	h, err := hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// defaultPeer returns where the host-side peer listens unless told otherwise:
// a named pipe on Windows, loopback TCP elsewhere.
func defaultPeer() (network, addr string) {
	if runtime.GOOS == "windows" {
		return "pipe", `\\.\pipe\guestclip-host`
	}
	return "tcp", "127.0.0.1:8753"
}
