package mysql

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// ClientDefaults is the [client] section of a MySQL option file.
type ClientDefaults struct {
	Host     string
	Port     int
	User     string
	Password string
	Socket   string
	Database string
}

// LoadDefaultsFile reads the [client] section of a my.cnf style file.
// !include directives and bare flags are tolerated and ignored.
func LoadDefaultsFile(path string) (ClientDefaults, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:        true,
		SkipUnrecognizableLines: true,
		Insensitive:             true,
	}, path)
	if err != nil {
		return ClientDefaults{}, fmt.Errorf("reading defaults file %s: %w", path, err)
	}

	sec := f.Section("client")
	d := ClientDefaults{
		Host:     unquote(sec.Key("host").String()),
		User:     unquote(sec.Key("user").String()),
		Password: unquote(sec.Key("password").String()),
		Socket:   unquote(sec.Key("socket").String()),
		Database: unquote(sec.Key("database").String()),
		Port:     sec.Key("port").MustInt(0),
	}
	return d, nil
}

// Apply fills empty fields of cfg from the option file.
func (d ClientDefaults) Apply(cfg *ConnectionConfig) {
	if cfg.Host == "" {
		cfg.Host = d.Host
	}
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.User == "" {
		cfg.User = d.User
	}
	if cfg.Password == "" {
		cfg.Password = d.Password
	}
	if cfg.Socket == "" {
		cfg.Socket = d.Socket
	}
	if cfg.Database == "" {
		cfg.Database = d.Database
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
