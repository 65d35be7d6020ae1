package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chenyanchen/comptree/configstore"
)

func (a *app) convertCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <in> <out>",
		Short: "Convert a configuration file between YAML and TOML",
		Long: `Convert reads <in> and writes <out>, choosing both formats from the
file extensions (.yaml, .yml or .toml).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := configstore.LoadFile(args[0])
			if err != nil {
				return err
			}
			if err := configstore.SaveFile(s, args[1]); err != nil {
				return err
			}
			a.logger.Info("converted", "in", args[0], "out", args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
			return nil
		},
	}
}
