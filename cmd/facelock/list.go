package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered people",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		identities, err := store.LoadAll()
		if err != nil {
			return fmt.Errorf("failed to load registered faces: %w", err)
		}

		if len(identities) == 0 {
			fmt.Println("No faces registered.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "HANDLE\tNAME\tSAMPLES\tREGISTERED")
		fmt.Fprintln(w, "------\t----\t-------\t----------")
		for _, id := range identities {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", id.Handle, id.Name, len(id.Embeddings), id.EnrolledAt.Local().Format("2006-01-02 15:04"))
		}
		_ = w.Flush()

		fmt.Printf("\nTotal registered faces: %d\n", len(identities))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
