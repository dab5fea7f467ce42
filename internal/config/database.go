// internal/config/database.go
package config

import (
	"strconv"
	"strings"
)

const applicationName = "imi-market"

// DSN renders a libpq keyword/value connection string. Values are quoted when
// they contain spaces, quotes or backslashes.
func (d *DatabaseConfig) DSN() string {
	pairs := [][2]string{
		{"host", d.Host},
		{"port", d.Port},
		{"user", d.User},
		{"password", d.Password},
		{"dbname", d.Database},
		{"sslmode", d.SSLMode},
		{"application_name", applicationName},
	}
	if d.ConnectTimeout > 0 {
		pairs = append(pairs, [2]string{"connect_timeout", strconv.Itoa(d.ConnectTimeout)})
	}

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		parts = append(parts, kv[0]+"="+quoteDSNValue(kv[1]))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
