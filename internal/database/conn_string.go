package database

import (
	"fmt"
	"net/url"

	"github.com/rickgao/pricepulse/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "pricepulse"

// BuildConnString builds a PostgreSQL connection URL from config. Host and
// port fall back to localhost:5432, sslmode to prefer.
func BuildConnString(cfg config.DBConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   fmt.Sprintf("%s:%d", host, port),
		Path:   "/" + cfg.Name,
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("application_name", ApplicationName)
	u.RawQuery = q.Encode()

	return u.String()
}
