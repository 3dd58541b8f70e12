package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmcleod/localtrust/pki"
	"github.com/jmcleod/localtrust/trustchain"
)

var showPart string

// errUnpersistedLeaf rejects printing the leaf certificate and key in
// separate runs while each run issues a fresh leaf.
var errUnpersistedLeaf = errors.New("the leaf is reissued on every run unless it is saved to disc")

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the trust chain bundle",
	Long: `Prints the CA certificate, leaf certificate and leaf key as PEM. With
--part summary a JSON description of both certificates is printed instead.

The leaf certificate and key can only be printed on their own when the leaf
is saved to disc; otherwise use --part all to get a matching pair.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := checkPart(showPart, s.settings); err != nil {
			return err
		}
		c, err := s.chain()
		if err != nil {
			return err
		}
		return writePart(cmd.OutOrStdout(), c, showPart)
	},
}

func checkPart(part string, settings trustchain.Settings) error {
	switch part {
	case "ca", "all", "summary":
		return nil
	case "cert", "key":
		if !settings.Cert.SaveToDisc {
			return fmt.Errorf("--part %s: %w; use --part all or --cert-save-to-disc", part, errUnpersistedLeaf)
		}
		return nil
	default:
		return fmt.Errorf("unknown part %q: want ca, cert, key, all or summary", part)
	}
}

func writePart(w io.Writer, c *trustchain.Chain, part string) error {
	b := c.Bundle()
	switch part {
	case "ca":
		_, err := io.WriteString(w, b.CA)
		return err
	case "cert":
		_, err := io.WriteString(w, b.Cert)
		return err
	case "key":
		_, err := io.WriteString(w, b.Key)
		return err
	case "all":
		_, err := io.WriteString(w, b.CA+b.Cert+b.Key)
		return err
	case "summary":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]pki.Summary{
			"ca":   pki.Describe(c.CACertificate()),
			"cert": pki.Describe(c.Certificate()),
		})
	default:
		return fmt.Errorf("unknown part %q: want ca, cert, key, all or summary", part)
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVar(&showPart, "part", "all", "Part to print: ca, cert, key, all or summary")
}
