package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Retrieve an entity with its joins resolved",
		Run:   runGet,
	}

	cmd.Flags().StringP("type", "t", "", "Entity type (required)")
	cmd.Flags().String("id", "", "Entity id (required)")
	cmd.Flags().String("langs", "", "Comma-separated languages to keep")
	cmd.Flags().String("fields", "", "Comma-separated logical paths to fetch")
	cmd.Flags().StringP("joins", "j", "", `Join template as JSON, e.g. {"speaker":{"name":1}}`)
	cmd.Flags().String("context", "", "Configured join context, e.g. index")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	langs, _ := cmd.Flags().GetString("langs")
	fields, _ := cmd.Flags().GetString("fields")
	joinsStr, _ := cmd.Flags().GetString("joins")
	joinContext, _ := cmd.Flags().GetString("context")

	joins, err := parseJoins(joinsStr)
	if err != nil {
		exitErr("get", err)
	}

	e, _, closeFn := openEngine()
	defer closeFn()

	ent, err := e.Get(cmd.Context(), deep.GetParams{
		ID:          id,
		Type:        typ,
		Langs:       splitList(langs),
		Fields:      splitList(fields),
		Joins:       joins,
		JoinContext: joinContext,
	}, nil)
	if err != nil {
		exitErr("get", err)
	}
	if ent == nil {
		exitErr("get", fmt.Errorf("%s/%s not found", typ, id))
	}
	printJSON(ent)
}
