package cli

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pankaj28843/docs-mcp-server/internal/search"
)

var (
	searchLimit  int
	searchPrefix string
)

var searchCmd = &cobra.Command{
	Use:   "search <tenant> <query>...",
	Short: "Query a tenant's published snapshot",
	Long: `Search loads the tenant's snapshot from the data directory and prints the
ranked results as JSON. Terms are ORed unless joined with AND; prefix a term
with NOT or - to exclude it.

Examples:
  docsearch search go-docs context cancellation
  docsearch search go-docs "goroutine AND channel" -k 3 --prefix ref/`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "k", 0, "maximum results (default from config)")
	searchCmd.Flags().StringVar(&searchPrefix, "prefix", "", "only return documents whose URI starts with this prefix")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.tenants.Register(ctx, tenantConfig(cfg.Tenants, args[0])); err != nil {
		return err
	}

	resp, err := a.svc.Search(ctx, args[0], strings.Join(args[1:], " "), searchLimit, search.Filters{URIPrefix: searchPrefix})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
