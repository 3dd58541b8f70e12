package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List every certificate recorded in the issuance ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if s.ledger == nil {
			return errors.New("the ledger is disabled")
		}
		entries, err := s.ledger.List(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CREATED\tKIND\tSERIAL\tNOT AFTER\tPERSISTED\tSUBJECT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
				e.CreatedAt.Local().Format(time.DateTime),
				e.Kind,
				e.Serial,
				e.NotAfter.Local().Format(time.DateOnly),
				e.Persisted,
				e.Subject)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
