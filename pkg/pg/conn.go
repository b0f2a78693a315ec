package pg

import (
	"database/sql"
	"fmt"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

type Config struct {
	Driver   string `env:"DRIVER"`
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
}

func (c Config) dsn() string {
	if c.Driver == DriverSqlite {
		return c.Database
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable", c.Host, c.User, c.Password, c.Database, c.Port)
}

func (c Config) dialect() string {
	if c.Driver == DriverSqlite {
		return "sqlite3"
	}
	return DriverPostgres
}

func newSqlConnection(config Config) (*sql.DB, error) {
	return sql.Open(config.dialect(), config.dsn())
}
