package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/classcomm/classcomm/internal/localstore"
	"github.com/classcomm/classcomm/internal/output"
	ccsync "github.com/classcomm/classcomm/internal/sync"
	"github.com/classcomm/classcomm/internal/syncclient"
	"github.com/classcomm/classcomm/internal/syncconfig"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Sync local data with remote server",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusOnly, _ := cmd.Flags().GetBool("status")
		watch, _ := cmd.Flags().GetBool("watch")

		if !syncconfig.IsAuthenticated() {
			output.Error("not logged in (run: classcomm auth login)")
			return fmt.Errorf("not authenticated")
		}

		store, err := localstore.Open(getBaseDir())
		if err != nil {
			output.Error("open local store: %v", err)
			return err
		}
		defer store.Close()

		engine, client, err := buildEngine(store)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := engine.Init(ctx); err != nil {
			output.Error("init sync: %v", err)
			return err
		}

		if statusOnly {
			return runSyncStatus(ctx, store, client, engine)
		}

		if watch {
			return runSyncWatch(ctx, engine)
		}

		stats, err := engine.SyncNow(ctx)
		if err != nil {
			output.Error("sync: %v", err)
			return err
		}
		reportCycle(stats)
		return nil
	},
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Requeue failed operations for the next sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := localstore.Open(getBaseDir())
		if err != nil {
			output.Error("open local store: %v", err)
			return err
		}
		defer store.Close()

		n, err := store.RetryErrors()
		if err != nil {
			output.Error("retry: %v", err)
			return err
		}
		if n == 0 {
			output.Info("no failed operations")
			return nil
		}
		output.Success("%d operation(s) requeued", n)
		return nil
	},
}

// buildEngine wires the local store to the HTTP transport.
func buildEngine(store *localstore.Store) (*ccsync.Engine, *syncclient.Client, error) {
	clientID, _, err := store.ClientState()
	if err != nil {
		return nil, nil, fmt.Errorf("client state: %w", err)
	}
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), clientID)
	engine := ccsync.New(store, client, ccsync.Options{
		Interval: syncconfig.GetSyncInterval(),
	})
	return engine, client, nil
}

func runSyncStatus(ctx context.Context, store *localstore.Store, client *syncclient.Client, engine *ccsync.Engine) error {
	pending, err := store.CountPending()
	if err != nil {
		output.Error("count pending: %v", err)
		return err
	}
	failed, err := store.CountFailed()
	if err != nil {
		output.Error("count failed: %v", err)
		return err
	}

	fmt.Printf("Client:  %s\n", engine.ClientID())
	fmt.Printf("Cursor:  %d\n", engine.Cursor())
	fmt.Printf("Pending: %d operation(s)\n", pending)
	if failed > 0 {
		output.Warning("%d failed operation(s) (run: classcomm sync retry)", failed)
		ops, err := store.Failed()
		if err != nil {
			return err
		}
		for _, op := range ops {
			fmt.Println("  " + output.FormatOperation(&op))
		}
	}

	serverStatus, err := client.SyncStatus(ctx)
	if err != nil {
		if errors.Is(err, syncclient.ErrUnauthorized) {
			output.Warning("unauthorized - re-login may be needed")
			return nil
		}
		output.Error("server status: %v", err)
		return err
	}
	fmt.Printf("\nServer:\n")
	fmt.Printf("  Changes:  %d\n", serverStatus.ChangeEntries)
	fmt.Printf("  Last seq: %d\n", serverStatus.LastSeq)
	return nil
}

func runSyncWatch(ctx context.Context, engine *ccsync.Engine) error {
	if !syncconfig.GetSyncEnabled() {
		output.Warning("background sync is disabled (CLASSCOMM_SYNC_AUTO or config.json sync.enabled)")
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// One immediate cycle, then the periodic loop until interrupted.
	if stats, err := engine.SyncNow(ctx); err != nil {
		output.Warning("initial sync: %v", err)
	} else {
		reportCycle(stats)
	}
	output.Info("watching for changes (interval %s, ctrl-c to stop)", syncconfig.GetSyncInterval())
	engine.Run(ctx)
	return nil
}

func reportCycle(stats ccsync.CycleStats) {
	if stats.Pushed == 0 && stats.Superseded == 0 && stats.Failed == 0 && stats.Applied == 0 {
		output.Info("up to date (cursor %d)", stats.Cursor)
		return
	}
	parts := ""
	if stats.Pushed > 0 {
		parts += fmt.Sprintf("pushed %d", stats.Pushed)
	}
	if stats.Superseded > 0 {
		if parts != "" {
			parts += ", "
		}
		parts += fmt.Sprintf("superseded %d", stats.Superseded)
	}
	if stats.Applied > 0 {
		if parts != "" {
			parts += ", "
		}
		parts += fmt.Sprintf("pulled %d", stats.Applied)
	}
	if stats.Failed > 0 {
		if parts != "" {
			parts += ", "
		}
		parts += fmt.Sprintf("failed %d", stats.Failed)
	}
	output.Success("synced: %s (cursor %d)", parts, stats.Cursor)
	if stats.Failed > 0 {
		output.Warning("%d operation(s) rejected (run: classcomm sync --status)", stats.Failed)
	}
}

func init() {
	syncCmd.Flags().Bool("status", false, "show sync status without syncing")
	syncCmd.Flags().Bool("watch", false, "keep syncing on an interval until interrupted")
	syncCmd.AddCommand(syncRetryCmd)
	rootCmd.AddCommand(syncCmd)
}
