// Package dsn resolves a connection target for either backend from a
// URI, individual fields, and environment fallbacks, the way the
// teacher's internal/database/open.go resolves OpenOptions into a DSN
// before dialing.
package dsn

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/axql/axql/driver"
)

// Dialect identifies which backend a Target addresses.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// Target is a fully resolved connection target: dialect plus the
// driver.Options a backend.Open call needs.
type Target struct {
	Dialect Dialect
	Options driver.Options

	// StatementCacheCapacity is carried alongside Options since it
	// governs the core runtime's cache, not the backend connection
	// itself. Resolve fills in 100 when neither an explicit value nor a
	// statement-cache-capacity URI parameter sets it; zero disables caching.
	StatementCacheCapacity int
}

// Explicit carries connection fields a caller set directly in code or
// config, taking precedence over both a URI and environment variables
// per the resolution order: explicit > URI > environment > default.
type Explicit struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	Database               string
	SSLMode                string
	SSLRootCert            string
	StatementCacheCapacity int
}

// Resolve interprets uri (a "postgres://", "postgresql://", "sqlite:",
// or bare filesystem path) together with explicit overrides and process
// environment variables, and returns a fully resolved Target.
func Resolve(uri string, explicit Explicit) (Target, error) {
	uri = strings.TrimSpace(uri)

	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		return resolvePostgres(uri, explicit)
	case strings.HasPrefix(uri, "sqlite:"):
		return resolveSQLite(strings.TrimPrefix(uri, "sqlite:"), explicit)
	case uri == "":
		if explicit.Host != "" || envAny("PGHOST", "PGDATABASE", "PGUSER") {
			return resolvePostgres("", explicit)
		}
		return Target{}, &driver.Error{Kind: driver.KindConfiguration, Message: "dsn: empty uri and no PG* environment variables set"}
	default:
		// No recognized scheme: treat the whole string as a SQLite
		// filename, matching the teacher's "SQLitePath" passthrough.
		return resolveSQLite(uri, explicit)
	}
}

func envAny(keys ...string) bool {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

func resolvePostgres(uri string, explicit Explicit) (Target, error) {
	var (
		host, user, password, database, sslmode, sslrootcert string
		port                                                  int
		params                                                = map[string]string{}
		uriCapacity                                           = -1
	)

	if uri != "" {
		u, err := url.Parse(uri)
		if err != nil {
			return Target{}, &driver.Error{Kind: driver.KindConfiguration, Message: fmt.Sprintf("dsn: invalid postgres uri: %v", err)}
		}
		host = u.Hostname()
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		if u.User != nil {
			user = u.User.Username()
			password, _ = u.User.Password()
		}
		database = strings.TrimPrefix(u.Path, "/")
		q := u.Query()
		sslmode = q.Get("sslmode")
		sslrootcert = q.Get("sslrootcert")
		if v := q.Get("statement-cache-capacity"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				uriCapacity = n
			}
		}
		for k, vs := range q {
			if k == "sslmode" || k == "sslrootcert" || k == "statement-cache-capacity" {
				continue
			}
			if len(vs) > 0 {
				params[k] = vs[0]
			}
		}
	}

	// Environment fallback, applied only where the URI left a field
	// empty, per PG* convention (libpq environment variables).
	host = firstNonEmpty(host, os.Getenv("PGHOST"))
	user = firstNonEmpty(user, os.Getenv("PGUSER"))
	password = firstNonEmpty(password, os.Getenv("PGPASSWORD"))
	database = firstNonEmpty(database, os.Getenv("PGDATABASE"))
	sslmode = firstNonEmpty(sslmode, os.Getenv("PGSSLMODE"))
	sslrootcert = firstNonEmpty(sslrootcert, os.Getenv("PGSSLROOTCERT"))
	if port == 0 {
		if p := os.Getenv("PGPORT"); p != "" {
			port, _ = strconv.Atoi(p)
		}
	}

	// Explicit overrides win over everything else.
	host = firstNonEmpty(explicit.Host, host)
	user = firstNonEmpty(explicit.User, user)
	password = firstNonEmpty(explicit.Password, password)
	database = firstNonEmpty(explicit.Database, database)
	sslmode = firstNonEmpty(explicit.SSLMode, sslmode)
	sslrootcert = firstNonEmpty(explicit.SSLRootCert, sslrootcert)
	if explicit.Port != 0 {
		port = explicit.Port
	}

	if host == "" {
		host = probeUnixSocket(port)
	}
	if port == 0 {
		port = 5432
	}
	if sslmode == "" {
		sslmode = "prefer"
	}
	params["sslmode"] = sslmode
	if sslrootcert != "" {
		params["sslrootcert"] = sslrootcert
	}

	if database == "" {
		return Target{}, &driver.Error{Kind: driver.KindConfiguration, Message: "dsn: postgres database name is required"}
	}

	capacity := explicit.StatementCacheCapacity
	if capacity == 0 {
		capacity = 100
		if uriCapacity >= 0 {
			capacity = uriCapacity
		}
	}

	return Target{
		Dialect: Postgres,
		Options: driver.Options{
			DataSource: fmt.Sprintf("%s:%d", host, port),
			Database:   database,
			Username:   user,
			Password:   password,
			Params:     params,
		},
		StatementCacheCapacity: capacity,
	}, nil
}

// unixSocketDirs are the conventional locations for Postgres' Unix
// domain socket, checked in order when no host is configured.
var unixSocketDirs = []string{"/var/run/postgresql", "/private/tmp", "/tmp"}

func probeUnixSocket(port int) string {
	if port == 0 {
		port = 5432
	}
	name := fmt.Sprintf(".s.PGSQL.%d", port)
	for _, dir := range unixSocketDirs {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir
		}
	}
	return "localhost"
}

func resolveSQLite(path string, explicit Explicit) (Target, error) {
	path = strings.TrimSpace(path)

	capacity := explicit.StatementCacheCapacity
	if capacity == 0 {
		capacity = 100
	}

	return Target{
		Dialect: SQLite,
		Options: driver.Options{
			DataSource: filenameFor(path),
		},
		StatementCacheCapacity: capacity,
	}, nil
}

// filenameFor applies SQLite's special filename conventions: ":memory:"
// becomes a private, unshared in-memory database and "" opens an
// anonymous temporary database, matching the driver/sqlite backend's
// own filenameFor, which Resolve's output should already satisfy.
func filenameFor(name string) string {
	switch name {
	case ":memory:":
		return "file::memory:?cache=private"
	default:
		return name
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// Redacted renders t.Options as a connection-string-like summary with
// the password masked, safe to log per the teacher's pkg/redact
// convention for credential-bearing config.
func (t Target) Redacted() string {
	switch t.Dialect {
	case SQLite:
		return fmt.Sprintf("sqlite:%s", t.Options.DataSource)
	case Postgres:
		password := ""
		if t.Options.Password != "" {
			password = "***"
		}
		return fmt.Sprintf("postgres://%s@%s/%s?sslmode=%s", orRedact(t.Options.Username, password), t.Options.DataSource, t.Options.Database, t.Options.Params["sslmode"])
	default:
		return "<unknown dsn>"
	}
}

func orRedact(user, password string) string {
	if password == "" {
		return user
	}
	return user + ":" + password
}
