// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PostgreSQL limit, MySQL allows 64
const maxIdentifierLength = 63

// Dialect hides SQL differences between supported databases.
// Only the small subset of SQL used for collections is covered.
type Dialect struct {
	driver string
	schema string
}

func (d Dialect) Driver() string {
	return d.driver
}

func (d Dialect) Schema() string {
	return d.schema
}

// Quote quotes an SQL identifier
func (d Dialect) Quote(ident string) string {
	if d.driver == DriverMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Table returns a quoted and (if applicable) schema qualified table name
func (d Dialect) Table(name string) string {
	if d.schema != "" {
		return d.Quote(d.schema) + "." + d.Quote(name)
	}
	return d.Quote(name)
}

// Placeholder returns a query argument placeholder (idx is 1-based)
func (d Dialect) Placeholder(idx int) string {
	if d.driver == DriverPostgres {
		return fmt.Sprintf("$%d", idx)
	}
	return "?"
}

// Placeholders returns a parenthesized list of n placeholders starting
// with argument number `from` (1-based).
func (d Dialect) Placeholders(from, n int) string {
	var ans strings.Builder
	ans.WriteString("(")
	for i := 0; i < n; i++ {
		if i > 0 {
			ans.WriteString(", ")
		}
		ans.WriteString(d.Placeholder(from + i))
	}
	ans.WriteString(")")
	return ans.String()
}

// SerialPK returns a column definition of an auto-incremented primary key
func (d Dialect) SerialPK(name string, big bool) string {
	switch d.driver {
	case DriverPostgres:
		if big {
			return d.Quote(name) + " BIGSERIAL PRIMARY KEY"
		}
		return d.Quote(name) + " SERIAL PRIMARY KEY"
	case DriverMySQL:
		if big {
			return d.Quote(name) + " BIGINT AUTO_INCREMENT PRIMARY KEY"
		}
		return d.Quote(name) + " INT AUTO_INCREMENT PRIMARY KEY"
	default:
		return d.Quote(name) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (d Dialect) JSONType() string {
	switch d.driver {
	case DriverPostgres:
		return "JSONB"
	case DriverMySQL:
		return "JSON"
	default:
		return "TEXT"
	}
}

func (d Dialect) TextType() string {
	if d.driver == DriverMySQL {
		return "LONGTEXT"
	}
	return "TEXT"
}

func (d Dialect) TimestampType() string {
	switch d.driver {
	case DriverPostgres:
		return "TIMESTAMP WITH TIME ZONE"
	case DriverMySQL:
		return "DATETIME"
	default:
		return "TIMESTAMP"
	}
}

// ShortTextType is used for indexed textual columns
func (d Dialect) ShortTextType() string {
	if d.driver == DriverMySQL {
		return "VARCHAR(255)"
	}
	return "TEXT"
}

// TableComment returns a statement setting table comment or an empty string
// for databases without such a feature.
func (d Dialect) TableComment(table, comment string) string {
	escaped := strings.ReplaceAll(comment, "'", "''")
	switch d.driver {
	case DriverPostgres:
		return fmt.Sprintf("COMMENT ON TABLE %s IS '%s'", d.Table(table), escaped)
	case DriverMySQL:
		return fmt.Sprintf("ALTER TABLE %s COMMENT = '%s'", d.Table(table), escaped)
	default:
		return ""
	}
}

// IndexName returns a name of an index over table.column. Names
// too long for an identifier are shortened and made unique by
// a hash of the full name.
func IndexName(table, column string) string {
	name := fmt.Sprintf("idx_%s__%s", table, column)
	if len(name) <= maxIdentifierLength {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	suffix := "_" + hex.EncodeToString(sum[:])[:12]
	return name[:maxIdentifierLength-len(suffix)] + suffix
}

// CreateIndex returns a statement creating an index over a single column
func (d Dialect) CreateIndex(table, column string) string {
	idxName := IndexName(table, column)
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", d.Quote(idxName), d.Table(table), d.Quote(column))
}

// DropTable returns a statement removing a table if exists
func (d Dialect) DropTable(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", d.Table(table))
}

// TableExistsQuery returns a query (plus its arguments) returning
// a single row with a count of tables of the given name.
func (d Dialect) TableExistsQuery(table string) (string, []any) {
	switch d.driver {
	case DriverPostgres:
		return "SELECT COUNT(*) FROM information_schema.tables " +
			"WHERE table_schema = $1 AND table_name = $2", []any{d.schema, table}
	case DriverMySQL:
		return "SELECT COUNT(*) FROM information_schema.tables " +
			"WHERE table_schema = DATABASE() AND table_name = ?", []any{table}
	default:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{table}
	}
}

// TablesWithPrefixQuery returns a query listing table names starting
// with the prefix.
func (d Dialect) TablesWithPrefixQuery(prefix string) (string, []any) {
	pattern := strings.NewReplacer("_", `\_`, "%", `\%`).Replace(prefix) + "%"
	switch d.driver {
	case DriverPostgres:
		return "SELECT table_name FROM information_schema.tables " +
			`WHERE table_schema = $1 AND table_name LIKE $2 ESCAPE '\'`, []any{d.schema, pattern}
	case DriverMySQL:
		return "SELECT table_name FROM information_schema.tables " +
			`WHERE table_schema = DATABASE() AND table_name LIKE ? ESCAPE '\\'`, []any{pattern}
	default:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND " +
			`name LIKE ? ESCAPE '\'`, []any{pattern}
	}
}

func NewDialect(conf *DBConf) Dialect {
	d := Dialect{driver: conf.Driver}
	if conf.Driver == DriverPostgres {
		d.schema = conf.Schema
	}
	return d
}
