package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/couchcryptid/obs-decoder-service/internal/rules"
	"github.com/spf13/cobra"
)

func NewResolveCommand(_ io.Reader, stdout, _ io.Writer) *cobra.Command {
	var (
		rulesPath string
		context   []string
	)
	resolveCommand := &cobra.Command{
		Use:   "resolve CODE...",
		Short: "Show the rule a descriptor resolves to inside a structural context",
		Example: `  decodectl resolve 022043 --context 306005
  decodectl resolve 0-08-080 --context 306004,107000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			t, err := rules.Load(rulesPath)
			if err != nil {
				return err
			}
			path := make([]rules.Code, len(context))
			for i, s := range context {
				if path[i], err = rules.ParseCode(s); err != nil {
					return err
				}
			}
			for _, arg := range args {
				code, err := rules.ParseCode(arg)
				if err != nil {
					return err
				}
				r, err := t.Resolve(code, path)
				switch {
				case errors.Is(err, rules.ErrNoRule):
					fmt.Fprintf(stdout, "%s\tno rule\n", code)
				case err != nil:
					return err
				default:
					fmt.Fprintf(stdout, "%s\t%s\n", code, r)
				}
			}
			return nil
		},
	}
	flags := resolveCommand.Flags()
	addRulesFlag(flags, &rulesPath)
	flags.StringSliceVarP(&context, "context", "c", nil, "open structural codes, outermost first")
	return resolveCommand
}

func init() {
	subcommandFns["resolve"] = NewResolveCommand
}
