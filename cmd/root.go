// Package cmd implements the dboe operator command line: inspecting a
// journal, running recovery on a configured system, and reading or
// changing its value cells.
//
// Every flag can also be given as an environment variable DBOE_<flag>,
// with dashes replaced by underscores (e.g. DBOE_CONFIG=/etc/dboe.toml),
// or in a .env file in the working directory.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mit-pdos/go-dboe/config"
	"github.com/mit-pdos/go-dboe/util"
)

const (
	Version = "0.3.0"
)

var (
	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dboe",
		Short: "journaled transactional block store",
		Long: fmt.Sprintf(`dboe (v%s)

Tools for a journaled store of transactional components: one writer and
any number of readers, with every commit made durable in a journal before
it becomes visible.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dboe",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dboe v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(journalCmd)
	RootCmd.AddCommand(recoverCmd)
	RootCmd.AddCommand(cellCmd)

	key := "config"
	RootCmd.PersistentFlags().String(key, "", "TOML configuration file; defaults are used when empty")
	key = "debug-level"
	RootCmd.PersistentFlags().Uint64(key, util.Debug, "trace level, overrides the configuration")
}

// initConfig reads .env files and sets up environment lookups.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("dboe")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags makes cmd's flags visible through viper.
func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// loadConfig reads the file named by --config, or returns the defaults.
func loadConfig() (*config.Config, error) {
	var c *config.Config
	if path := viper.GetString("config"); path != "" {
		var err error
		c, err = config.Load(path)
		if err != nil {
			return nil, err
		}
		for _, msg := range c.WarningMsgs {
			util.Warnf("%s: %s", path, msg)
		}
	} else {
		c = config.NewConfig()
	}
	if viper.IsSet("debug-level") {
		c.DebugLevel = viper.GetUint64("debug-level")
	}
	return c, nil
}

// openSystem loads the configuration and opens the system it describes.
func openSystem() (*config.System, error) {
	c, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.Open(c)
}

// Execute runs RootCmd. It is called by main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
