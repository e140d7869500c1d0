package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/deep"
	"github.com/rcliao/epicgraph/internal/schema"
)

func init() {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the configured schema",
	}

	typesCmd := &cobra.Command{
		Use:   "types",
		Short: "List entity types and their fields",
		Run:   runSchemaTypes,
	}

	fieldsCmd := &cobra.Command{
		Use:   "fields",
		Short: "Show the store paths a join template reads",
		Run:   runSchemaFields,
	}
	fieldsCmd.Flags().StringP("type", "t", "", "Entity type (required)")
	fieldsCmd.Flags().String("context", "index", "Join context")
	fieldsCmd.Flags().String("langs", "", "Comma-separated languages")
	fieldsCmd.MarkFlagRequired("type")

	schemaCmd.AddCommand(typesCmd, fieldsCmd)
	RootCmd.AddCommand(schemaCmd)
}

type fieldInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	To          string `json:"to,omitempty"`
	Cardinality string `json:"cardinality,omitempty"`
	Inverse     string `json:"inverse,omitempty"`
	UnionIn     string `json:"unionIn,omitempty"`
}

func runSchemaTypes(cmd *cobra.Command, args []string) {
	cfg, err := loadSchema()
	if err != nil {
		exitErr("load schema", err)
	}

	out := map[string][]fieldInfo{}
	for _, typ := range cfg.TypeNames() {
		ent, _ := cfg.Entity(typ)
		for _, name := range ent.FieldNames() {
			f, _ := ent.Field(name)
			info := fieldInfo{Name: name, Kind: f.Kind.String(), To: f.To, Inverse: f.Inverse}
			if f.Kind == schema.Relationship {
				info.Cardinality = string(f.Cardinality)
			}
			if f.UnionIn != nil {
				info.UnionIn = f.UnionIn.String()
			}
			out[typ] = append(out[typ], info)
		}
	}
	printJSON(out)
}

func runSchemaFields(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	joinContext, _ := cmd.Flags().GetString("context")
	langs, _ := cmd.Flags().GetString("langs")

	cfg, err := loadSchema()
	if err != nil {
		exitErr("load schema", err)
	}
	fields, err := deep.FieldsToFetch(cfg, typ, cfg.JoinsFor(joinContext, typ), splitList(langs))
	if err != nil {
		exitErr("schema fields", err)
	}
	printJSON(fields)
}
