package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/epicgraph/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import entities from JSON",
		Long: "Import entities from JSON on stdin, in the format produced by export. " +
			"Entities are loaded into one cache and deep flushed, so inverse references, " +
			"joins and unions are rebuilt. --raw writes the documents as they are.",
		Run: runImport,
	}

	cmd.Flags().Bool("raw", false, "Write documents without graph maintenance")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	raw, _ := cmd.Flags().GetBool("raw")

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		exitErr("read stdin", err)
	}

	var docs []*model.Entity
	if err := json.Unmarshal(data, &docs); err != nil {
		exitErr("parse json", err)
	}

	e, s, closeFn := openEngine()
	defer closeFn()

	if raw {
		imported, err := s.Import(cmd.Context(), docs)
		if err != nil {
			exitErr("import", err)
		}
		fmt.Printf(`{"ok":true,"imported":%d}`+"\n", imported)
		return
	}

	c := e.NewCache()
	for _, d := range docs {
		if d.ID == "" || d.Type == "" {
			exitErr("import", fmt.Errorf("document without _id or _type"))
		}
		if d.Body == nil {
			d.Body = map[string]any{}
		}
		c.SetEntity(d)
		c.MarkDirtyEntity(d)
	}
	if err := e.DeepFlush(cmd.Context(), c); err != nil {
		exitErr("import", err)
	}
	fmt.Printf(`{"ok":true,"imported":%d}`+"\n", len(docs))
}
