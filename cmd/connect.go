package cmd

import (
	"context"
	"fmt"

	"github.com/nethalo/dbalter/internal/logger"
	"github.com/nethalo/dbalter/internal/mysql"
	"github.com/nethalo/dbalter/internal/output"
	"github.com/nethalo/dbalter/internal/topology"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 3306
	defaultUser = "dbalter"
)

// passwordPromptValue is what a bare -p sets the password to.
const passwordPromptValue = " "

// promptPassword is swapped out in tests.
var promptPassword = mysql.PromptPassword

var connectCmd = &cobra.Command{
	Use:          "connect",
	Short:        "Test connection and show topology info",
	SilenceUsage: true, // Don't show usage on errors
	Long: `Connect to a MySQL instance, detect topology (standalone, replica, Galera/PXC,
Group Replication) and list what that topology means for an online ALTER.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)

		connCfg, err := connectionConfig()
		if err != nil {
			return err
		}

		conn, err := mysql.Connect(ctx, connCfg)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer conn.Close()

		topo, err := topology.Detect(ctx, conn)
		if err != nil {
			return fmt.Errorf("topology detection failed: %w", err)
		}

		renderer := output.NewRenderer(viper.GetString("format"), cmd.OutOrStdout())
		renderer.RenderTopology(connCfg, topo, topology.Warnings(topo, topology.Checks{}))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}

// connectionConfig assembles connection settings from flags, the config
// file and environment (all through viper), then the MySQL option file.
// Values given explicitly win over the option file. A bare -p prompts.
func connectionConfig() (mysql.ConnectionConfig, error) {
	connCfg := mysql.ConnectionConfig{
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		User:     viper.GetString("user"),
		Password: viper.GetString("password"),
		Database: viper.GetString("database"),
		Socket:   viper.GetString("socket"),
		TLSMode:  viper.GetString("tls"),
		TLSCA:    viper.GetString("tls-ca"),
	}
	prompt := connCfg.Password == passwordPromptValue
	if prompt {
		connCfg.Password = ""
	}
	// The port flag always carries a default; only an explicit value beats
	// the option file.
	if !viper.IsSet("port") {
		connCfg.Port = 0
	}

	if path := viper.GetString("defaults-file"); path != "" {
		defaults, err := mysql.LoadDefaultsFile(path)
		if err != nil {
			return connCfg, err
		}
		defaults.Apply(&connCfg)
	}

	if connCfg.Host == "" && connCfg.Socket == "" {
		connCfg.Host = defaultHost
	}
	if connCfg.Port == 0 {
		connCfg.Port = defaultPort
	}
	if connCfg.User == "" {
		connCfg.User = defaultUser
	}
	if prompt && connCfg.Password == "" {
		connCfg.Password = promptPassword()
	}
	return connCfg, nil
}

func newLogger() (*zap.Logger, error) {
	return logger.New(logger.Options{
		Verbose: viper.GetBool("verbose"),
		Quiet:   viper.GetBool("quiet"),
		JSON:    viper.GetBool("log-json"),
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
