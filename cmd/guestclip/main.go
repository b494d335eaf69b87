// guestclip: guest-side clipboard agent for a host-side peer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/guestclip/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "guestclip",
		Short: "Mirror the guest clipboard to a host-side peer",
		Long: `guestclip joins the local clipboard-viewer chain and keeps the plain-text
clipboard of this machine in step with a host-side peer.

Run "guestclip run" inside the guest. "guestclip host" is a host-side peer for
testing and scripting; "guestclip status" asks a running agent how it is doing.

Config file search order (first found wins):
  /etc/guestclip/guestclip.toml
  $HOME/.config/guestclip/guestclip.toml
  path supplied via --config

All flags can be set via GUESTCLIP_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newHostCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("guestclip %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
