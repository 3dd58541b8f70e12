package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or refresh the trust chain and report what changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		c, err := s.chain()
		if err != nil {
			return err
		}

		paths := c.Paths()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ELEMENT\tSTATE\tCERTIFICATE\tKEY")
		fmt.Fprintf(w, "ca\t%s\t%s\t%s\n", c.CAState(), paths.CACert, paths.CAKey)
		fmt.Fprintf(w, "cert\t%s\t%s\t%s\n", c.CertState(), persistedOr(c.Settings().Cert.SaveToDisc, paths.Cert), persistedOr(c.Settings().Cert.SaveToDisc, paths.CertKey))
		return w.Flush()
	},
}

func persistedOr(persisted bool, path string) string {
	if persisted {
		return path
	}
	return "(memory only)"
}

func init() {
	rootCmd.AddCommand(initCmd)
}
