package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export entities as JSON",
		Long:  "Export every stored entity as a JSON array. Filter by collection with --index.",
		Run:   runExport,
	}

	cmd.Flags().String("index", "", "Filter by collection")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	index, _ := cmd.Flags().GetString("index")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	docs, err := s.ExportAll(cmd.Context(), index)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(docs)
}
