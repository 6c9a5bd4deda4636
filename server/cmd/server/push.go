package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stockrelay/stockrelay/server/internal/client"
	"github.com/stockrelay/stockrelay/server/internal/receiver"
)

var pushCmd = &cobra.Command{
	Use:   "push [batch.json]",
	Short: "Send a session batch to a running server, or manage its entries",
	Long: `push reads a session batch ({"sessionId": ..., "<category>": [...]}) from a JSON
file and sends it to the server over HTTP, or over gRPC when --grpc is set.
With --end it removes every entry of the given session instead. --touch
refreshes an entry's timestamp (keep-alive), --get prints one entry and
--list prints every live entry.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPush,
}

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.Flags().String("server", "http://localhost:8080", "base URL of the stock API")
	pushCmd.Flags().String("grpc", "", "gRPC ingest address (host:port); overrides --server for batches")
	pushCmd.Flags().String("header", "x-api-key", "header carrying the shared secret")
	pushCmd.Flags().String("key-env", "STOCKRELAY_KEY", "environment variable holding the shared secret")
	pushCmd.Flags().String("end", "", "end this session instead of pushing a batch")
	pushCmd.Flags().String("reason", "", "reason recorded when ending a session")
	pushCmd.Flags().String("touch", "", "refresh the timestamp of this entry id")
	pushCmd.Flags().String("get", "", "print the entry with this id")
	pushCmd.Flags().Bool("list", false, "print every live entry")
	pushCmd.Flags().Duration("timeout", 30*time.Second, "overall timeout")
}

func runPush(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	grpcAddr, _ := flags.GetString("grpc")
	header, _ := flags.GetString("header")
	keyEnv, _ := flags.GetString("key-env")
	end, _ := flags.GetString("end")
	reason, _ := flags.GetString("reason")
	touch, _ := flags.GetString("touch")
	get, _ := flags.GetString("get")
	list, _ := flags.GetBool("list")
	timeout, _ := flags.GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	key := os.Getenv(keyEnv)
	c := client.New(server, header, key)
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch {
	case touch != "":
		ts, err := c.Touch(ctx, touch)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s refreshed at %s\n", touch, ts.Format(time.RFC3339))
		return nil
	case get != "":
		e, err := c.Get(ctx, get)
		if err != nil {
			return err
		}
		return enc.Encode(e)
	case list:
		resp, err := c.List(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(resp)
	}

	if end != "" {
		n, err := c.EndSession(ctx, end, reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %d entries\n", n)
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("push: a batch file is required unless --end is set")
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("push: read %q: %w", args[0], err)
	}
	var batch map[string]any
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("push: parse %q: %w", args[0], err)
	}

	if grpcAddr != "" {
		summary, err := pushGRPC(ctx, grpcAddr, header, key, batch)
		if err != nil {
			return err
		}
		return enc.Encode(summary)
	}

	summary, err := c.PushSession(ctx, batch)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "stored %d entries, skipped %d\n", summary.Total(), summary.Skipped)
	return enc.Encode(summary)
}

func pushGRPC(ctx context.Context, addr, header, key string, batch map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(batch)
	if err != nil {
		return nil, fmt.Errorf("push: encode batch: %w", err)
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("push: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, header, key)
	}
	resp, err := receiver.NewClient(conn).PushSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("push: %w", err)
	}
	return resp.AsMap(), nil
}
