package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbegin/stepcue"
	"github.com/cbegin/stepcue/internal/score"
)

var stepsJSON bool

var stepsCmd = &cobra.Command{
	Use:   "steps <file>",
	Short: "Print the steps of a score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := score.Load(args[0], nil)
		if err != nil {
			return err
		}
		list, err := stepcue.ListSteps(sc)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if stepsJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		for _, st := range list {
			fmt.Fprintf(w, "%4d  %-8s %s\n", st.Index, st.Position, st.Notes)
		}
		return nil
	},
}

func init() {
	stepsCmd.Flags().BoolVar(&stepsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(stepsCmd)
}
