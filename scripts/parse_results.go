// parse_results.go - Run the result parser over a saved results page
//
// Usage: go run scripts/parse_results.go <page.html> [site-profile.yaml]
//
// Useful for checking a site profile against markup saved from a browser
// before pointing the CLI at the live site.
//
// Example:
//   go run scripts/parse_results.go pkg/extract/testdata/page_one.html
//   go run scripts/parse_results.go saved.html examples/sites/amazon-uk.yaml

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"

	"github.com/jmylchreest/cartpilot/pkg/extract"
	"github.com/jmylchreest/cartpilot/pkg/site"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run scripts/parse_results.go <page.html> [site-profile.yaml]")
		os.Exit(1)
	}

	profile := site.Amazon()
	if len(os.Args) > 2 {
		p, err := site.Load(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		profile = p
	}

	f, err := os.Open(os.Args[1]) //#nosec G304 -- path from the command line
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing HTML: %v\n", err)
		os.Exit(1)
	}

	records := extract.ParseEntries(doc, profile)
	sponsored := 0
	for _, r := range records {
		if r.Sponsored {
			sponsored++
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(records)
	fmt.Fprintf(os.Stderr, "%d records (%d sponsored) using profile %s\n", len(records), sponsored, profile.Name)
}
