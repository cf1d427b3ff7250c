package catalog

import (
	"strings"

	"mit.edu/dsg/topsales/common"
)

// Identifier names a table as <catalog>.<namespace>.<table>.
type Identifier struct {
	Catalog   string
	Namespace string
	Table     string
}

// ParseIdentifier splits a three-part table name. Any other shape is a configuration error.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Identifier{}, common.NewError(common.ConfigurationError,
			"table identifier '%s' must have the form <catalog>.<namespace>.<table>", s)
	}
	for _, p := range parts {
		if p == "" {
			return Identifier{}, common.NewError(common.ConfigurationError, "table identifier '%s' has an empty part", s)
		}
	}
	return Identifier{Catalog: parts[0], Namespace: parts[1], Table: parts[2]}, nil
}

func (id Identifier) String() string {
	return id.Catalog + "." + id.Namespace + "." + id.Table
}

// key is the catalog-local lookup key; the catalog name itself is checked separately.
func (id Identifier) key() string {
	return tableKey(id.Namespace, id.Table)
}

func tableKey(namespace, table string) string {
	return strings.ToLower(namespace) + "." + strings.ToLower(table)
}
