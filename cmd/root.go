package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "dbalter",
	Short: "Online ALTER TABLE for MySQL without blocking writes",
	Long: `dbalter changes the structure of a live MySQL table without holding a
long table lock.

It builds an altered shadow copy of the table, keeps it in sync with capture
triggers while copying the existing rows over in small chunks, removes rows
that vanished from the source during the copy and finally swaps the two
tables with a single atomic RENAME.`,
	SilenceErrors: true,
}

// Execute is called by main.main(). It adds all child commands to the root
// command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "-- ERROR: %s\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.dbalter/config.yaml)")
	rootCmd.PersistentFlags().StringP("host", "H", "", "MySQL host")
	rootCmd.PersistentFlags().IntP("port", "P", 3306, "MySQL port")
	rootCmd.PersistentFlags().StringP("user", "u", "", "MySQL user")
	rootCmd.PersistentFlags().StringP("password", "p", "", "MySQL password (will prompt if flag present without value)")
	rootCmd.PersistentFlags().Lookup("password").NoOptDefVal = passwordPromptValue // Allow -p without value to trigger prompt
	rootCmd.PersistentFlags().StringP("database", "d", "", "Target database")
	rootCmd.PersistentFlags().StringP("socket", "S", "", "Unix socket path")
	rootCmd.PersistentFlags().String("defaults-file", "", "MySQL option file to read [client] settings from")
	rootCmd.PersistentFlags().String("tls", "", "TLS mode: disabled, preferred, required, skip-verify, custom")
	rootCmd.PersistentFlags().String("tls-ca", "", "CA certificate file for --tls=custom")
	rootCmd.PersistentFlags().StringP("format", "f", "text", "Output format: text, plain, json, markdown")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log every chunk and show debug info")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Only log warnings and errors")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	// Bind flags to viper
	for _, name := range []string{
		"host", "port", "user", "password", "database", "socket", "defaults-file",
		"tls", "tls-ca", "format", "verbose", "quiet", "log-json",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home + "/.dbalter")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("DBALTER")
	viper.AutomaticEnv()

	// A missing config file is fine.
	if err := viper.ReadInConfig(); err == nil {
		// Nested config keys only fill in what was not given on the command line.
		mapped := []struct{ flag, key string }{
			{"host", "connections.default.host"},
			{"port", "connections.default.port"},
			{"user", "connections.default.user"},
			{"database", "connections.default.database"},
			{"socket", "connections.default.socket"},
			{"defaults-file", "connections.default.defaults_file"},
			{"tls", "connections.default.tls"},
			{"tls-ca", "connections.default.tls_ca"},
			{"format", "defaults.format"},
		}
		for _, m := range mapped {
			if !rootCmd.PersistentFlags().Changed(m.flag) && viper.IsSet(m.key) {
				viper.Set(m.flag, viper.Get(m.key))
			}
		}
	}
}
