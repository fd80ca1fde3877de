package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestConnectCmd_Structure(t *testing.T) {
	if connectCmd == nil {
		t.Fatal("connectCmd should not be nil")
	}

	if connectCmd.Use != "connect" {
		t.Errorf("connectCmd.Use = %q, want %q", connectCmd.Use, "connect")
	}

	if connectCmd.Short == "" {
		t.Error("connectCmd.Short should not be empty")
	}

	if connectCmd.RunE == nil {
		t.Error("connectCmd should use RunE for error handling")
	}

	if !connectCmd.SilenceUsage {
		t.Error("connectCmd should set SilenceUsage to true")
	}

	found := false
	for _, cmd := range rootCmd.Commands() {
		if cmd.Use == "connect" {
			found = true
			break
		}
	}
	if !found {
		t.Error("connect command should be registered with root command")
	}
}

func TestConnectCmd_Help(t *testing.T) {
	expectedTerms := []string{"topology", "standalone", "replica", "Galera", "Group Replication"}
	for _, term := range expectedTerms {
		if !strings.Contains(connectCmd.Long, term) {
			t.Errorf("help text should mention %s", term)
		}
	}
}

func TestConnectionConfig_Defaults(t *testing.T) {
	viper.Reset()

	cfg, err := connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %q, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 3306 {
		t.Errorf("Port = %d, want 3306", cfg.Port)
	}
	if cfg.User != "dbalter" {
		t.Errorf("User = %q, want dbalter", cfg.User)
	}
}

func TestConnectionConfig_FromViper(t *testing.T) {
	testCases := []struct {
		name     string
		host     string
		port     int
		user     string
		database string
		socket   string
		wantHost string
	}{
		{
			name:     "tcp connection",
			host:     "db.example.com",
			port:     3306,
			user:     "testuser",
			database: "testdb",
			wantHost: "db.example.com",
		},
		{
			name:     "socket connection",
			user:     "testuser",
			database: "testdb",
			socket:   "/var/run/mysqld/mysqld.sock",
		},
		{
			name:     "custom port",
			host:     "localhost",
			port:     3307,
			user:     "admin",
			database: "prod",
			wantHost: "localhost",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			viper.Set("host", tc.host)
			if tc.port != 0 {
				viper.Set("port", tc.port)
			}
			viper.Set("user", tc.user)
			viper.Set("database", tc.database)
			viper.Set("socket", tc.socket)

			cfg, err := connectionConfig()
			if err != nil {
				t.Fatalf("connectionConfig: %v", err)
			}
			if cfg.Host != tc.wantHost {
				t.Errorf("Host = %q, want %q", cfg.Host, tc.wantHost)
			}
			if tc.port != 0 && cfg.Port != tc.port {
				t.Errorf("Port = %d, want %d", cfg.Port, tc.port)
			}
			if cfg.User != tc.user {
				t.Errorf("User = %q, want %q", cfg.User, tc.user)
			}
			if cfg.Database != tc.database {
				t.Errorf("Database = %q, want %q", cfg.Database, tc.database)
			}
			if cfg.Socket != tc.socket {
				t.Errorf("Socket = %q, want %q", cfg.Socket, tc.socket)
			}
		})
	}
}

func writeDefaultsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "my.cnf")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write defaults file: %v", err)
	}
	return path
}

func TestConnectionConfig_DefaultsFile(t *testing.T) {
	path := writeDefaultsFile(t, `[client]
host = db1.internal
port = 3310
user = migrator
password = "s3cret"
`)

	viper.Reset()
	viper.Set("defaults-file", path)

	cfg, err := connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cfg.Host != "db1.internal" {
		t.Errorf("Host = %q, want db1.internal", cfg.Host)
	}
	if cfg.Port != 3310 {
		t.Errorf("Port = %d, want 3310", cfg.Port)
	}
	if cfg.User != "migrator" {
		t.Errorf("User = %q, want migrator", cfg.User)
	}
	if cfg.Password != "s3cret" {
		t.Errorf("Password = %q, want s3cret", cfg.Password)
	}
}

func TestConnectionConfig_ExplicitValuesWinOverDefaultsFile(t *testing.T) {
	path := writeDefaultsFile(t, `[client]
host = db1.internal
port = 3310
user = migrator
`)

	viper.Reset()
	viper.Set("defaults-file", path)
	viper.Set("host", "db2.internal")
	viper.Set("port", 3320)

	cfg, err := connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cfg.Host != "db2.internal" {
		t.Errorf("Host = %q, want db2.internal", cfg.Host)
	}
	if cfg.Port != 3320 {
		t.Errorf("Port = %d, want 3320", cfg.Port)
	}
	if cfg.User != "migrator" {
		t.Errorf("User = %q, want migrator from the defaults file", cfg.User)
	}
}

func TestConnectionConfig_MissingDefaultsFile(t *testing.T) {
	viper.Reset()
	viper.Set("defaults-file", filepath.Join(t.TempDir(), "absent.cnf"))

	if _, err := connectionConfig(); err == nil {
		t.Error("expected an error for a missing defaults file")
	}
}

func TestConnectionConfig_PasswordPrompt(t *testing.T) {
	orig := promptPassword
	defer func() { promptPassword = orig }()

	prompted := 0
	promptPassword = func() string {
		prompted++
		return "typed"
	}

	viper.Reset()
	viper.Set("password", passwordPromptValue)
	cfg, err := connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cfg.Password != "typed" || prompted != 1 {
		t.Errorf("Password = %q after %d prompts, want typed after 1", cfg.Password, prompted)
	}

	// No prompt without -p, and none when a password is already known.
	prompted = 0
	viper.Reset()
	if _, err := connectionConfig(); err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	viper.Set("password", "given")
	cfg, err = connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if prompted != 0 {
		t.Errorf("prompted %d times, want 0", prompted)
	}
	if cfg.Password != "given" {
		t.Errorf("Password = %q, want given", cfg.Password)
	}
}

func TestConnectionConfig_TLS(t *testing.T) {
	viper.Reset()
	viper.Set("tls", "custom")
	viper.Set("tls-ca", "/etc/mysql/ca.pem")

	cfg, err := connectionConfig()
	if err != nil {
		t.Fatalf("connectionConfig: %v", err)
	}
	if cfg.TLSMode != "custom" || cfg.TLSCA != "/etc/mysql/ca.pem" {
		t.Errorf("TLS = (%q, %q), want (custom, /etc/mysql/ca.pem)", cfg.TLSMode, cfg.TLSCA)
	}
}

func TestNewLogger(t *testing.T) {
	for _, tc := range []struct {
		name  string
		key   string
		value bool
	}{
		{"default", "", false},
		{"verbose", "verbose", true},
		{"quiet", "quiet", true},
		{"json", "log-json", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			viper.Reset()
			if tc.key != "" {
				viper.Set(tc.key, tc.value)
			}
			log, err := newLogger()
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			if log == nil {
				t.Fatal("newLogger returned nil")
			}
		})
	}
}
