package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go.klb.dev/guestclip/internal/ipc"
	"go.klb.dev/guestclip/internal/status"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the running agent",
		Long: `Asks the agent running on this machine, over its local status socket,
whether it is mirroring and what it has done so far.

Exits with status 1 when no agent is running or it is not mirroring.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runStatus(cmd, v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	cmd.Flags().Duration("timeout", 5*time.Second, "how long to wait for the agent")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	if !ipc.IsRunning() {
		return fmt.Errorf("no agent listening on %s", ipc.SocketPath())
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
	defer cancel()

	c, err := status.NewClient(ipc.DialStatus)
	if err != nil {
		return err
	}
	defer c.Close()

	health, err := c.Check(ctx)
	if err != nil {
		return err
	}
	details, err := c.Details(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(details); err != nil {
			return err
		}
	} else {
		printStatus(out, health, details)
	}

	if health != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("agent is %s", health)
	}
	return nil
}

func printStatus(out io.Writer, health healthpb.HealthCheckResponse_ServingStatus, details map[string]any) {
	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Health:\t%s\n", health)

	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val := details[k]
		if s, ok := val.(string); ok && s == "" {
			val = "-"
		}
		fmt.Fprintf(w, "%s:\t%v\n", k, val)
	}
	_ = w.Flush()
}
