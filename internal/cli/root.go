// Package cli implements the comptree command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chenyanchen/comptree/configstore"
)

// app carries the settings shared by every command.
type app struct {
	v      *viper.Viper
	logger *slog.Logger
}

// NewRootCommand returns the comptree command tree. Settings come from
// flags, COMPTREE_* environment variables and an optional comptree.yaml.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "comptree",
		Short: "Inspect and convert component configuration stores",
		Long: `comptree reads hierarchical component configuration (YAML or TOML)
and lets you browse groups and parameters or convert between formats.

Examples:
  # List the groups under robot
  comptree groups robot -s robot.yaml

  # Print one parameter
  comptree get robot/arm/type -s robot.yaml

  # Convert a store to TOML
  comptree convert robot.yaml robot.toml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is ./comptree.yaml)")
	flags.StringP("store", "s", "", "component configuration file (.yaml, .yml or .toml)")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("store", flags.Lookup("store"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		a.groupsCommand(),
		a.paramsCommand(),
		a.getCommand(),
		a.dumpCommand(),
		a.convertCommand(),
	)
	return root
}

func (a *app) init() error {
	if cfgFile := a.v.GetString("config"); cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("comptree")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath(".")
	}

	a.v.AutomaticEnv()
	a.v.SetEnvPrefix("COMPTREE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := a.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.v.GetString("log.level"))); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

// store loads the file named by the "store" setting.
func (a *app) store() (*configstore.Store, error) {
	filename := a.v.GetString("store")
	if filename == "" {
		return nil, fmt.Errorf("no store file: use --store or COMPTREE_STORE")
	}
	s, err := configstore.LoadFile(filename)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("store loaded", "file", filename)
	return s, nil
}
