package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"golang.org/x/term"
)

const customTLSName = "dbalter-custom"

// MySQL error numbers the migration reacts to.
const (
	ErrCodeTableExists      = 1050
	ErrCodeBadField         = 1054
	ErrCodeParse            = 1064
	ErrCodeNoSuchTable      = 1146
	ErrCodeLockWaitTimeout  = 1205
	ErrCodeDeadlock         = 1213
	ErrCodeTriggerExists    = 1359
	ErrCodeTriggerNotExists = 1360
)

// ConnectionConfig holds MySQL connection parameters.
type ConnectionConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string
	TLSMode  string // "", "disabled", "preferred", "required", "skip-verify", "custom"
	TLSCA    string // path to CA certificate file (required when TLSMode == "custom")
	Timeout  time.Duration
}

// Address returns host:port or the socket path, whichever is used to dial.
func (c ConnectionConfig) Address() string {
	if c.Socket != "" {
		return c.Socket
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connect opens a pool to MySQL and verifies it with a ping.
func Connect(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if cfg.TLSMode == "custom" {
		if cfg.TLSCA == "" {
			return nil, fmt.Errorf("--tls-ca is required when --tls=custom")
		}
		if err := registerCustomTLS(cfg.TLSCA); err != nil {
			return nil, fmt.Errorf("TLS setup failed: %w", err)
		}
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	// One pinned migration session plus one spare for topology probes.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	return db, nil
}

// registerCustomTLS reads a CA certificate PEM file and registers it as a named TLS config.
func registerCustomTLS(caPath string) error {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return fmt.Errorf("reading CA certificate %q: %w", caPath, err)
	}

	rootCAs := x509.NewCertPool()
	if !rootCAs.AppendCertsFromPEM(pem) {
		return fmt.Errorf("no valid certificates found in %q", caPath)
	}

	return mysqldriver.RegisterTLSConfig(customTLSName, &tls.Config{
		RootCAs: rootCAs,
	})
}

func buildDSN(cfg ConnectionConfig) (string, error) {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.DBName = cfg.Database
	if dc.DBName == "" {
		dc.DBName = "information_schema"
	}
	if cfg.Socket != "" {
		dc.Net = "unix"
		dc.Addr = cfg.Socket
	} else {
		dc.Net = "tcp"
		dc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	}
	dc.ParseTime = true
	dc.InterpolateParams = true
	if cfg.Timeout > 0 {
		dc.Timeout = cfg.Timeout
	}

	switch cfg.TLSMode {
	case "", "disabled":
	case "preferred":
		dc.TLSConfig = "preferred"
	case "required":
		dc.TLSConfig = "true"
	case "skip-verify":
		dc.TLSConfig = "skip-verify"
	case "custom":
		dc.TLSConfig = customTLSName
	default:
		return "", fmt.Errorf("invalid TLS mode %q: valid values are disabled, preferred, required, skip-verify, custom", cfg.TLSMode)
	}

	return dc.FormatDSN(), nil
}

// PromptPassword reads a password from the terminal without echoing.
func PromptPassword() string {
	fmt.Fprint(os.Stderr, "Enter password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return ""
	}
	return string(password)
}

// ErrorCode returns the MySQL error number carried by err, or 0.
func ErrorCode(err error) uint16 {
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		return me.Number
	}
	return 0
}

// IsLockError reports whether err is a lock wait timeout or a deadlock.
func IsLockError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeLockWaitTimeout, ErrCodeDeadlock:
		return true
	}
	return false
}

// IsStatementError reports whether err is a defect of the statement itself
// (syntax, unknown column or table) that no retry can fix.
func IsStatementError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeBadField, ErrCodeParse, ErrCodeNoSuchTable:
		return true
	}
	return false
}
