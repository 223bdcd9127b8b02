package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/internal/output"
)

var searchCmd = &cobra.Command{
	Use:   "search TERM...",
	Short: "Search the site and list the products found",
	Long: `Search the site for TERM and collect product records from every
result page, scrolling each page and following pagination.

The markdown summary lists the first 10 products; json, jsonl and yaml
carry all of them.

Examples:
  cartpilot search "wireless mouse"
  cartpilot search mechanical keyboard --save . -o json
  cartpilot search "usb hub" --add 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	flags := searchCmd.Flags()
	flags.Int("add", 0, "then add up to N sponsored products from the results page")
	flags.String("save", "", "also save the markdown summary to this directory")
	flags.Int("limit", output.DefaultSummaryLimit, "products listed in the markdown summary (0=all)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, client, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	term := strings.Join(args, " ")
	add, _ := cmd.Flags().GetInt("add")
	saveDir, _ := cmd.Flags().GetString("save")
	limit, _ := cmd.Flags().GetInt("limit")

	logInfo("Searching for: %s", term)
	start := time.Now()
	res, err := client.Search(ctx, term)
	if err != nil {
		return fail(cmd, err)
	}
	logger.Info("search complete", "term", term, "products", res.Total, "pages", res.Pages, "duration", time.Since(start))

	envs := []output.Envelope{output.Search(res)}
	if saveDir != "" {
		path, err := output.SaveSummary(saveDir, envs[0], time.Now(), limit)
		if err != nil {
			logger.Error("failed to save summary", "error", err)
			return err
		}
		logInfo("Results saved to %s", path)
	}

	if add > 0 {
		logInfo("Adding up to %d sponsored products to cart...", add)
		n, err := client.AddCurrentSponsored(ctx, add)
		if err != nil {
			return fail(cmd, err, envs...)
		}
		envs = append(envs, output.Added(n))
	}

	return emit(cmd, envs...)
}
