package cli

import (
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/chenyanchen/comptree/configstore"
)

func pathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func (a *app) groupsCommand() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "groups [path]",
		Short: "List the sub-groups of a group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			var names []string
			if filter != "" {
				re, err := regexp.Compile(filter)
				if err != nil {
					return fmt.Errorf("filter: %w", err)
				}
				names, err = s.FilteredGroups(pathArg(args), re)
				if err != nil {
					return err
				}
			} else if names, err = s.Groups(pathArg(args)); err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "only groups matching this regular expression")
	return cmd
}

func (a *app) paramsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "params [path]",
		Short: "List the parameters of a group with their values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			path := pathArg(args)
			names, err := s.Parameters(path)
			if err != nil {
				return err
			}
			for _, name := range names {
				v, err := s.Value(configstore.Join(path, name))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", name, v)
			}
			return nil
		},
	}
}

func (a *app) getCommand() *cobra.Command {
	var inherit bool
	cmd := &cobra.Command{
		Use:   "get <param>",
		Short: "Print the value of a parameter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			lookup := s.Value
			if inherit {
				lookup = s.ValueAlsoMatchParents
			}
			v, err := lookup(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&inherit, "inherit", "i", false, "fall back to the parameter of the same name in parent groups")
	return cmd
}

func (a *app) dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [path]",
		Short: "Print a group in canonical form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.store()
			if err != nil {
				return err
			}
			out, err := s.Dump(pathArg(args))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}
