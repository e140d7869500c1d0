package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create [body-json]",
		Short: "Create an entity",
		Long:  "Create an entity. The JSON body can be a positional arg or piped via stdin.",
		Run:   runCreate,
	}

	cmd.Flags().StringP("type", "t", "", "Entity type (required)")
	cmd.Flags().String("id", "", "Entity id (default: generated)")
	cmd.Flags().String("index", "", "Collection (default: <type>s)")

	cmd.MarkFlagRequired("type")

	RootCmd.AddCommand(cmd)
}

func runCreate(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	id, _ := cmd.Flags().GetString("id")
	index, _ := cmd.Flags().GetString("index")

	var body map[string]any
	if input := strings.TrimSpace(readInput(args)); input != "" {
		if err := json.Unmarshal([]byte(input), &body); err != nil {
			exitErr("create", fmt.Errorf("body must be a JSON object: %w", err))
		}
	}

	e, _, closeFn := openEngine()
	defer closeFn()

	ref, err := e.Create(cmd.Context(), deep.CreateParams{ID: id, Type: typ, Index: index, Body: body}, nil)
	if err != nil {
		exitErr("create", err)
	}
	printJSON(ref)
}
