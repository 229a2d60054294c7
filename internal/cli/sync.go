package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pankaj28843/docs-mcp-server/internal/job"
	"github.com/pankaj28843/docs-mcp-server/internal/trigger"
)

var syncCmd = &cobra.Command{
	Use:   "sync <tenant>...",
	Short: "Sync configured tenants once and exit",
	Long: `Sync fetches, extracts and reindexes each named tenant in this process,
publishing a new snapshot when anything changed. Interrupting the command
cancels the running jobs; the previous snapshot stays published.

Examples:
  # Sync one tenant
  docsearch sync --config docsearch.yaml go-docs

  # Sync every configured tenant
  docsearch sync --config docsearch.yaml --all`,
	RunE: runSync,
}

var syncAll bool

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "sync every configured tenant")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{events: true})
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.scheduler.Recover(ctx); err != nil {
		return err
	}
	if err := a.registerConfigured(ctx); err != nil {
		return err
	}

	tenants := args
	if syncAll {
		tenants = a.tenants.List()
	}
	if len(tenants) == 0 {
		return fmt.Errorf("name at least one tenant or pass --all")
	}

	submitted := make([]job.Job, 0, len(tenants))
	for _, id := range tenants {
		j, err := a.svc.SubmitSync(ctx, id, trigger.SourceCLI)
		if err != nil {
			return err
		}
		submitted = append(submitted, j)
	}

	failed := 0
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for _, j := range submitted {
		final, err := a.scheduler.Wait(ctx, j.ID)
		if err != nil {
			// Interrupted; cancel and report the final state.
			bg := context.WithoutCancel(ctx)
			if _, err := a.scheduler.Cancel(bg, j.ID); err != nil {
				return err
			}
			if final, err = a.scheduler.Wait(bg, j.ID); err != nil {
				return err
			}
		}
		if final.State != job.StateSucceeded {
			failed++
		}
		if err := enc.Encode(final); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d syncs did not succeed", failed, len(submitted))
	}
	return nil
}
