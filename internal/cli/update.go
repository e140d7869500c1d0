package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update an entity and everything that depends on it",
		Long: "Update an entity. Values are parsed as JSON when possible, else taken as strings. " +
			"Joined copies, union fields and inverse references elsewhere are updated too.",
		Run: runUpdate,
	}

	cmd.Flags().StringP("type", "t", "", "Entity type (required)")
	cmd.Flags().String("id", "", "Entity id (required)")
	cmd.Flags().StringArray("set", nil, "path=value to set, repeatable")
	cmd.Flags().StringArray("unset", nil, "path to remove, repeatable")
	cmd.Flags().StringArray("push", nil, "path=value to append, repeatable")
	cmd.Flags().StringArray("add-to-set", nil, "path=value to append when absent, repeatable")
	cmd.Flags().StringArray("pull", nil, "path=value to remove from a list, repeatable")
	cmd.Flags().Bool("no-linking", false, "Do not maintain inverse references")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("id")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	unset, _ := cmd.Flags().GetStringArray("unset")
	noLinking, _ := cmd.Flags().GetBool("no-linking")

	var u deep.Update
	u.Unset = unset
	for flag, dst := range map[string]*map[string]any{
		"set":        &u.Set,
		"push":       &u.Push,
		"add-to-set": &u.AddToSet,
		"pull":       &u.Pull,
	} {
		pairs, _ := cmd.Flags().GetStringArray(flag)
		m, err := parseAssignments(pairs)
		if err != nil {
			exitErr("update", fmt.Errorf("--%s: %w", flag, err))
		}
		*dst = m
	}

	e, _, closeFn := openEngine()
	defer closeFn()

	res, err := e.Update(cmd.Context(), deep.UpdateParams{
		ID:                id,
		Type:              typ,
		Update:            u,
		IsOwn:             true,
		DontHandleLinking: noLinking,
	}, nil)
	if err != nil {
		exitErr("update", err)
	}
	printJSON(res)
}
