package cmd

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pydpiper-go/pydpiperd/internal/rpc/pydpiperpb"
	"github.com/pydpiper-go/pydpiperd/internal/statusview"
	"github.com/pydpiper-go/pydpiperd/internal/transport"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [flags] --server ADDR",
		Short: "Query the scheduler's current pipeline status",
		RunE:  runStatus,
	}
	cmd.Flags().String("server", "127.0.0.1:9090", "scheduler server address")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")

	client, err := transport.Dial(server, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := client.Scheduler.QueryStatus(ctx, &pydpiperpb.QueryStatusRequest{})
	if err != nil {
		return err
	}

	snapshot := statusview.Snapshot{
		Total:     reply.Total,
		Finished:  reply.Finished,
		Running:   reply.Running,
		Runnable:  reply.Runnable,
		Failed:    reply.Failed,
		Executors: reply.Executors,
		Draining:  reply.Draining,
		Fatal:     reply.Fatal,
	}
	statusview.Render(cmd.OutOrStdout(), snapshot, isatty.IsTerminal(os.Stdout.Fd()))

	if snapshot.Fatal != "" || snapshot.Failed > 0 {
		os.Exit(1)
	}
	return nil
}
