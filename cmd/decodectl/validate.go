package main

import (
	"fmt"
	"io"

	"github.com/couchcryptid/obs-decoder-service/internal/rules"
	"github.com/spf13/cobra"
)

func NewValidateCommand(_ io.Reader, stdout, _ io.Writer) *cobra.Command {
	var (
		rulesPath string
		normalize bool
	)
	validateCommand := &cobra.Command{
		Use:   "validate",
		Short: "Check a rule table and report every problem found",
		Long: `Load the rule table, expanding shorthand instructions, and run the
load-time checks. With --normalize the table is printed back in its
canonical structured form.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			t, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}
			if normalize {
				out, err := rules.Marshal(t)
				if err != nil {
					return err
				}
				_, err = stdout.Write(out)
				return err
			}
			fmt.Fprintf(stdout, "%s: %d entries, version %s\n", rulesPath, t.Len(), t.Version())
			return nil
		},
	}
	flags := validateCommand.Flags()
	addRulesFlag(flags, &rulesPath)
	flags.BoolVar(&normalize, "normalize", false, "print the table in canonical form")
	return validateCommand
}

func init() {
	subcommandFns["validate"] = NewValidateCommand
}
