package mysql

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ConnectionConfig
		wantNet  string
		wantAddr string
		wantDB   string
	}{
		{
			name: "TCP connection with all fields",
			cfg: ConnectionConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "root",
				Password: "secret",
				Database: "mydb",
			},
			wantNet:  "tcp",
			wantAddr: "localhost:3306",
			wantDB:   "mydb",
		},
		{
			name: "TCP connection without database",
			cfg: ConnectionConfig{
				Host:     "192.168.1.100",
				Port:     3307,
				User:     "dbalter",
				Password: "pass123",
			},
			wantNet:  "tcp",
			wantAddr: "192.168.1.100:3307",
			wantDB:   "information_schema",
		},
		{
			name: "Unix socket connection",
			cfg: ConnectionConfig{
				Socket:   "/var/run/mysqld/mysqld.sock",
				User:     "app",
				Password: "apppass",
				Database: "production",
			},
			wantNet:  "unix",
			wantAddr: "/var/run/mysqld/mysqld.sock",
			wantDB:   "production",
		},
		{
			name: "Special characters in password",
			cfg: ConnectionConfig{
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "p@ss:w0rd!/",
				Database: "db",
			},
			wantNet:  "tcp",
			wantAddr: "localhost:3306",
			wantDB:   "db",
		},
		{
			name: "IPv6 host",
			cfg: ConnectionConfig{
				Host: "::1",
				Port: 3306,
				User: "root",
			},
			wantNet:  "tcp",
			wantAddr: "[::1]:3306",
			wantDB:   "information_schema",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN() error: %v", err)
			}
			parsed, err := mysqldriver.ParseDSN(dsn)
			if err != nil {
				t.Fatalf("ParseDSN(%q) error: %v", dsn, err)
			}
			if parsed.User != tt.cfg.User {
				t.Errorf("User = %q, want %q", parsed.User, tt.cfg.User)
			}
			if parsed.Passwd != tt.cfg.Password {
				t.Errorf("Passwd = %q, want %q", parsed.Passwd, tt.cfg.Password)
			}
			if parsed.Net != tt.wantNet {
				t.Errorf("Net = %q, want %q", parsed.Net, tt.wantNet)
			}
			if parsed.Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", parsed.Addr, tt.wantAddr)
			}
			if parsed.DBName != tt.wantDB {
				t.Errorf("DBName = %q, want %q", parsed.DBName, tt.wantDB)
			}
			if !parsed.ParseTime {
				t.Error("ParseTime = false, want true")
			}
			if !parsed.InterpolateParams {
				t.Error("InterpolateParams = false, want true")
			}
		})
	}
}

func TestBuildDSN_TLSModes(t *testing.T) {
	tests := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{mode: "", want: ""},
		{mode: "disabled", want: ""},
		{mode: "preferred", want: "tls=preferred"},
		{mode: "required", want: "tls=true"},
		{mode: "skip-verify", want: "tls=skip-verify"},
		{mode: "custom", want: "tls=" + customTLSName},
		{mode: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("mode=%q", tt.mode), func(t *testing.T) {
			dsn, err := buildDSN(ConnectionConfig{Host: "h", Port: 3306, User: "u", TLSMode: tt.mode})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for TLS mode %q", tt.mode)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if strings.Contains(dsn, "tls=") {
					t.Errorf("DSN should not carry tls param, got %s", dsn)
				}
				return
			}
			if !strings.Contains(dsn, tt.want) {
				t.Errorf("DSN %s should contain %s", dsn, tt.want)
			}
		})
	}
}

func TestConnectionConfig_Address(t *testing.T) {
	if got := (ConnectionConfig{Host: "db1", Port: 3307}).Address(); got != "db1:3307" {
		t.Errorf("Address() = %q, want db1:3307", got)
	}
	if got := (ConnectionConfig{Host: "db1", Port: 3307, Socket: "/tmp/mysql.sock"}).Address(); got != "/tmp/mysql.sock" {
		t.Errorf("Address() = %q, want socket path", got)
	}
}

func TestErrorCode(t *testing.T) {
	deadlock := &mysqldriver.MySQLError{Number: ErrCodeDeadlock, Message: "Deadlock found"}
	wrapped := fmt.Errorf("copy chunk: %w", deadlock)

	if got := ErrorCode(wrapped); got != ErrCodeDeadlock {
		t.Errorf("ErrorCode() = %d, want %d", got, ErrCodeDeadlock)
	}
	if got := ErrorCode(errors.New("plain")); got != 0 {
		t.Errorf("ErrorCode(plain) = %d, want 0", got)
	}
	if !IsLockError(wrapped) {
		t.Error("IsLockError(deadlock) = false, want true")
	}
	if IsLockError(&mysqldriver.MySQLError{Number: ErrCodeTableExists}) {
		t.Error("IsLockError(table exists) = true, want false")
	}
}

func TestIsStatementError(t *testing.T) {
	if !IsStatementError(fmt.Errorf("copy: %w", &mysqldriver.MySQLError{Number: ErrCodeBadField})) {
		t.Error("IsStatementError(unknown column) = false, want true")
	}
	if IsStatementError(&mysqldriver.MySQLError{Number: ErrCodeDeadlock}) {
		t.Error("IsStatementError(deadlock) = true, want false")
	}
}
