package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dbalter configuration",
}

var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Create config file interactively",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		reader := bufio.NewReader(cmd.InOrStdin())
		ask := func(prompt, def string) string {
			fmt.Fprint(out, prompt)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(answer)
			if answer == "" {
				return def
			}
			return answer
		}

		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		configDir := filepath.Join(home, ".dbalter")
		configPath := filepath.Join(configDir, "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Config file already exists at %s\n", configPath)
			if strings.ToLower(ask("Overwrite? [y/N]: ", "n")) != "y" {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
		}

		if err := os.MkdirAll(configDir, 0700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		fmt.Fprintln(out, "dbalter configuration setup")
		fmt.Fprintln(out, "──────────────────────────")
		fmt.Fprintln(out)

		host := ask("MySQL host [127.0.0.1]: ", defaultHost)
		port := ask("MySQL port [3306]: ", "3306")
		user := ask("MySQL user [dbalter]: ", defaultUser)
		database := ask("Default database (optional): ", "")
		format := ask("Default output format [text]: ", "text")

		var config strings.Builder
		config.WriteString("# dbalter configuration\n\n")

		config.WriteString("connections:\n")
		config.WriteString("  default:\n")
		fmt.Fprintf(&config, "    host: %s\n", host)
		fmt.Fprintf(&config, "    port: %s\n", port)
		fmt.Fprintf(&config, "    user: %s\n", user)
		config.WriteString("    # password: omitted for security, use -p or a --defaults-file\n")
		if database != "" {
			fmt.Fprintf(&config, "    database: %s\n", database)
		}

		config.WriteString("\ndefaults:\n")
		fmt.Fprintf(&config, "  chunk_size: %d\n", 1000)
		config.WriteString("  sleep_millis: 0\n")
		fmt.Fprintf(&config, "  format: %s\n", format)

		if err := os.WriteFile(configPath, []byte(config.String()), 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(out, "\n✅ Config written to %s\n", configPath)

		if user != "root" {
			scope := "*.*"
			if database != "" {
				scope = fmt.Sprintf("`%s`.*", database)
			}
			fmt.Fprintln(out, "\nRecommended: create a dedicated MySQL user for dbalter:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  CREATE USER '%s'@'%%' IDENTIFIED BY '<password>';\n", user)
			fmt.Fprintf(out, "  GRANT SELECT, INSERT, UPDATE, DELETE, CREATE, DROP, ALTER, TRIGGER, LOCK TABLES ON %s TO '%s'@'%%';\n", scope, user)
			fmt.Fprintf(out, "  GRANT PROCESS, REPLICATION CLIENT ON *.* TO '%s'@'%%';\n", user)
			fmt.Fprintln(out)
		}

		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			fmt.Fprintln(out, "No config file found.")
			fmt.Fprintln(out, "Run 'dbalter config init' to create one.")
			return nil
		}

		fmt.Fprintf(out, "Config file: %s\n\n", configFile)

		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Fprintln(out, string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
