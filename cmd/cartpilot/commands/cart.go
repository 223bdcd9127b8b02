package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/cartpilot/internal/logger"
	"github.com/jmylchreest/cartpilot/internal/output"
)

var cartCmd = &cobra.Command{
	Use:   "cart",
	Short: "Add products to the cart",
	Long: `Add products to the cart in one of three ways:

  --top N      search --term and click the first N labelled sponsored
               results, without waiting for confirmation
  --current N  add up to N sponsored results from the page the session
               shows, confirming each add (with --term, search first)
  --ids A,B    add products by identifier, searching --term first

Examples:
  cartpilot cart --top 2 --term "usb hub"
  cartpilot cart --current 3 --term "usb hub"
  cartpilot cart --ids B0HUB00001,B0HUB00002 --term "usb hub"`,
	Args: cobra.NoArgs,
	RunE: runCart,
}

func init() {
	rootCmd.AddCommand(cartCmd)

	flags := cartCmd.Flags()
	flags.Int("top", 0, "add the first N labelled sponsored results for --term")
	flags.Int("current", 0, "add up to N sponsored results from the current results page")
	flags.StringSlice("ids", nil, "product identifiers to add (can be repeated)")
	flags.StringP("term", "t", "", "search term")

	cartCmd.MarkFlagsMutuallyExclusive("top", "current", "ids")
	cartCmd.MarkFlagsOneRequired("top", "current", "ids")
}

func runCart(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	top, _ := flags.GetInt("top")
	current, _ := flags.GetInt("current")
	ids, _ := flags.GetStringSlice("ids")
	term, _ := flags.GetString("term")

	if (flags.Changed("top") || flags.Changed("ids")) && term == "" {
		err := errors.New("--term is required with --top and --ids")
		logError("%v", err)
		return err
	}

	ctx, client, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	switch {
	case flags.Changed("top"):
		logInfo("Adding the top %d sponsored products for %q...", top, term)
		results, err := client.AddTopSponsored(ctx, term, top)
		if err != nil {
			return fail(cmd, err)
		}
		return emit(cmd, output.Actions(results))

	case flags.Changed("current"):
		var envs []output.Envelope
		if term != "" {
			logInfo("Searching for: %s", term)
			res, err := client.Search(ctx, term)
			if err != nil {
				return fail(cmd, err)
			}
			envs = append(envs, output.Search(res))
		}
		logInfo("Adding up to %d sponsored products to cart...", current)
		n, err := client.AddCurrentSponsored(ctx, current)
		if err != nil {
			return fail(cmd, err, envs...)
		}
		logger.Info("sponsored products added", "confirmed", n, "requested", current)
		return emit(cmd, append(envs, output.Added(n))...)

	default:
		logInfo("Adding %d products by identifier...", len(ids))
		results, err := client.AddByIdentifier(ctx, ids, term)
		if err != nil {
			return fail(cmd, err)
		}
		return emit(cmd, output.Actions(results))
	}
}
