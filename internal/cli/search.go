package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
	"github.com/rcliao/epicgraph/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search entities",
		Long:  "Search entities by text, filters and type. Without a query every entity of the types is listed.",
		Run:   runSearch,
	}

	cmd.Flags().StringSliceP("type", "t", nil, "Entity types (default: all)")
	cmd.Flags().StringArray("filter", nil, "Filter as store.path=value, repeatable")
	cmd.Flags().String("langs", "", "Comma-separated languages to keep")
	cmd.Flags().String("fields", "", "Comma-separated logical paths to fetch (single type only)")
	cmd.Flags().StringP("joins", "j", "", "Join template as JSON")
	cmd.Flags().String("context", "", "Configured join context")
	cmd.Flags().Int("from", 0, "Offset of the first hit")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default 20, 10 with --suggest)")
	cmd.Flags().Bool("suggest", false, "Treat the query as a prefix")
	cmd.Flags().Bool("no-aggs", false, "Skip configured aggregations")
	cmd.Flags().Duration("scroll", 0, "Keep a cursor open for this long")
	cmd.Flags().String("scroll-id", "", "Continue a cursor instead of searching")
	cmd.Flags().Bool("keys-only", false, "Only output type/id pairs")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	types, _ := cmd.Flags().GetStringSlice("type")
	filters, _ := cmd.Flags().GetStringArray("filter")
	langs, _ := cmd.Flags().GetString("langs")
	fields, _ := cmd.Flags().GetString("fields")
	joinsStr, _ := cmd.Flags().GetString("joins")
	joinContext, _ := cmd.Flags().GetString("context")
	from, _ := cmd.Flags().GetInt("from")
	limit, _ := cmd.Flags().GetInt("limit")
	suggest, _ := cmd.Flags().GetBool("suggest")
	noAggs, _ := cmd.Flags().GetBool("no-aggs")
	scroll, _ := cmd.Flags().GetDuration("scroll")
	scrollID, _ := cmd.Flags().GetString("scroll-id")
	keysOnly, _ := cmd.Flags().GetBool("keys-only")

	joins, err := parseJoins(joinsStr)
	if err != nil {
		exitErr("search", err)
	}
	filterMap, err := parseAssignments(filters)
	if err != nil {
		exitErr("search", err)
	}

	e, _, closeFn := openEngine()
	defer closeFn()

	var res *store.SearchResult
	if scrollID != "" {
		keep := scroll
		if keep <= 0 {
			keep = time.Minute
		}
		res, err = e.Scroll(cmd.Context(), deep.ScrollParams{
			ScrollID:    scrollID,
			KeepAlive:   keep,
			Langs:       splitList(langs),
			Joins:       joins,
			JoinContext: joinContext,
		}, nil)
	} else {
		res, err = e.Search(cmd.Context(), deep.SearchParams{
			Types:       types,
			Q:           strings.Join(args, " "),
			Filters:     filterMap,
			Langs:       splitList(langs),
			Fields:      splitList(fields),
			Joins:       joins,
			JoinContext: joinContext,
			From:        from,
			Size:        limit,
			Suggest:     suggest,
			NoAggs:      noAggs,
			Scroll:      scroll,
		}, nil, false)
	}
	if err != nil {
		exitErr("search", err)
	}

	if keysOnly {
		for _, h := range res.Hits {
			fmt.Printf("%s/%s\n", h.Type, h.ID)
		}
		return
	}
	printJSON(res)
}
