package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
	"github.com/rcliao/epicgraph/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create or remove relations between entities",
		Run:   runLink,
	}
	linkFlags(cmd)
	cmd.Flags().Bool("rm", false, "Remove the link")

	unlinkCmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove relations between entities",
		Run: func(cmd *cobra.Command, args []string) {
			doLink(cmd, true)
		},
	}
	linkFlags(unlinkCmd)

	RootCmd.AddCommand(cmd, unlinkCmd)
}

func linkFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("type", "t", "", "Source entity type")
	cmd.Flags().String("id", "", "Source entity id")
	cmd.Flags().StringP("rel", "r", "", "Relation on the source type")
	cmd.Flags().StringSlice("to", nil, "Target entity ids")
	cmd.Flags().String("to-type", "", "Target type (default: the relation's target)")
	cmd.Flags().Bool("derived", false, "Mark the references as derived rather than authored")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")
	cmd.MarkFlagRequired("rel")
	cmd.MarkFlagRequired("to")
}

func runLink(cmd *cobra.Command, args []string) {
	rm, _ := cmd.Flags().GetBool("rm")
	doLink(cmd, rm)
}

func doLink(cmd *cobra.Command, remove bool) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	rel, _ := cmd.Flags().GetString("rel")
	to, _ := cmd.Flags().GetStringSlice("to")
	toType, _ := cmd.Flags().GetString("to-type")
	derived, _ := cmd.Flags().GetBool("derived")

	p := deep.LinkParams{
		E1:       model.Ref{ID: id, Type: typ},
		Relation: rel,
		IsOwn:    !derived,
	}
	for _, t := range to {
		p.E2Entities = append(p.E2Entities, model.Ref{ID: t, Type: toType})
	}

	e, _, closeFn := openEngine()
	defer closeFn()

	var (
		res *deep.LinkResult
		err error
	)
	if remove {
		res, err = e.Unlink(cmd.Context(), p, nil)
	} else {
		res, err = e.Link(cmd.Context(), p, nil)
	}
	if err != nil {
		exitErr("link", err)
	}
	printJSON(res)
}
