package schema

import (
	"fmt"
	"strings"
)

// Supported SQL dialects, matching gorm dialector names.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

var columnTypes = map[string]map[Kind]string{
	DialectSQLite: {
		KindBool:   "BOOLEAN",
		KindInt:    "INTEGER",
		KindFloat:  "REAL",
		KindString: "TEXT",
		KindTime:   "DATETIME",
		KindList:   "TEXT",
		KindMap:    "TEXT",
	},
	DialectPostgres: {
		KindBool:   "BOOLEAN",
		KindInt:    "BIGINT",
		KindFloat:  "DOUBLE PRECISION",
		KindString: "TEXT",
		KindTime:   "TIMESTAMPTZ",
		KindList:   "TEXT",
		KindMap:    "TEXT",
	},
}

var primaryKeys = map[string]string{
	DialectSQLite:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	DialectPostgres: "BIGSERIAL PRIMARY KEY",
}

// CreateTableSQL renders a create-if-absent statement for the table.
// Existing tables are never dropped or altered.
func (t *Table) CreateTableSQL(dialect string) (string, error) {
	types, ok := columnTypes[dialect]
	if !ok {
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}

	var b strings.Builder

	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s %s",
		QuoteIdent(t.Name), QuoteIdent(PrimaryKey), primaryKeys[dialect])

	for _, c := range t.Columns {
		fmt.Fprintf(&b, ", %s %s", QuoteIdent(c.Name), types[c.Kind])
	}

	b.WriteString(")")

	return b.String(), nil
}

// QuoteIdent quotes an identifier for both supported dialects.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
