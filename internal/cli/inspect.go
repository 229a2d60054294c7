package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pankaj28843/docs-mcp-server/internal/segment"
	"github.com/pankaj28843/docs-mcp-server/pkg/config"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <tenant>",
	Short: "Print the header of a tenant's persisted snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

var historyCmd = &cobra.Command{
	Use:   "history <tenant>",
	Short: "List a tenant's sync jobs, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(inspectCmd, historyCmd)
}

type inspectOutput struct {
	Tenant     string    `json:"tenant"`
	Path       string    `json:"path"`
	Version    uint32    `json:"format_version"`
	Generation uint64    `json:"generation"`
	Documents  uint32    `json:"documents"`
	Terms      uint32    `json:"terms"`
	CreatedAt  time.Time `json:"created_at"`
	SizeBytes  int64     `json:"size_bytes"`
}

func runInspect(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := segment.Path(cfg.Index.DataDir, args[0])
	h, err := segment.ReadHeader(path)
	if err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(inspectOutput{
		Tenant:     args[0],
		Path:       path,
		Version:    h.Version,
		Generation: h.Generation,
		Documents:  h.DocCount,
		Terms:      h.TermCount,
		CreatedAt:  time.Unix(0, h.CreatedAt).UTC(),
		SizeBytes:  fi.Size(),
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	jobs, err := a.store.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}

// tenantConfig returns the configured tenant named id. Unknown names get a
// placeholder filesystem source so their persisted snapshot can be queried.
func tenantConfig(tenants []config.TenantConfig, id string) config.TenantConfig {
	for _, t := range tenants {
		if t.Name == id {
			return t
		}
	}
	return config.TenantConfig{Name: id, Source: config.SourceConfig{Type: "filesystem", Root: "."}}
}
