package catalog

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"

	"mit.edu/dsg/topsales/common"
)

// Catalog is the named registry mapping <namespace>.<table> to a schema and a data file location inside the
// warehouse. The whole catalog is serialized as a single JSON blob next to the table data.
//
// Tables are looked up case-insensitively, the way SQL engines resolve unquoted identifiers. The catalog is not
// safe for concurrent mutation; a run resolves every table it needs before starting any parallel work.
type Catalog struct {
	catalogState

	// In-memory structures for fast lookups
	tableMap map[string]*Table // namespace.table -> Table
}

// Column represents the basic unit of a table schema.
type Column struct {
	Name string      `json:"name"`
	Type common.Type `json:"type"`
}

// Table is the primary metadata structure.
type Table struct {
	Oid       common.ObjectID `json:"oid"`
	Namespace string          `json:"namespace"`
	Name      string          `json:"name"`
	Columns   []Column        `json:"columns"`
	// Location is the data file of the current version, relative to the warehouse root and slash separated.
	// It is empty while the table holds no data.
	Location string `json:"location,omitempty"`
	// Version increases every time the table contents are replaced.
	Version int64 `json:"version"`
}

// Snapshot names one version of a table's data. Writers put the data file at Location first and then commit the
// snapshot, so readers never observe a partially written version.
type Snapshot struct {
	Version  int64
	Location string
}

// DataLocation is the data file path of a table version.
func DataLocation(namespace, tableName string, version int64) string {
	return path.Join(strings.ToLower(namespace), strings.ToLower(tableName), fmt.Sprintf("v%06d.jsonl", version))
}

// PersistenceProvider abstracts how the catalog is saved to and loaded from disk.
type PersistenceProvider interface {
	LoadCatalogState() (json string, err error)
	SaveCatalogState(json string) error
}

func (t *Table) String() string {
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

// Schema returns the column types in table order.
func (t *Table) Schema() []common.Type {
	types := make([]common.Type, len(t.Columns))
	for i, c := range t.Columns {
		types[i] = c.Type
	}
	return types
}

// ColumnIndex returns the position of the named column (case-insensitive) or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

type catalogState struct {
	CatalogName string   `json:"name"`
	NextId      uint32   `json:"next_id"`
	Tables      []*Table `json:"tables"`
}

func (c *Catalog) String() string {
	b, _ := json.MarshalIndent(c, "", "  ")
	return string(b)
}

func (c *Catalog) toJSON() (string, error) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Catalog) fromJSON(jsonData string) error {
	if err := json.Unmarshal([]byte(jsonData), &c.catalogState); err != nil {
		return err
	}
	for _, t := range c.Tables {
		c.tableMap[tableKey(t.Namespace, t.Name)] = t
	}
	return nil
}

// NewCatalog initializes the catalog called name. It attempts to load existing state from the provider; if no
// state exists, it starts with an empty catalog. Loading a catalog persisted under a different name fails.
func NewCatalog(name string, provider PersistenceProvider) (*Catalog, error) {
	result := &Catalog{
		catalogState: catalogState{
			CatalogName: name,
			NextId:      0,
			Tables:      make([]*Table, 0),
		},
		tableMap: make(map[string]*Table),
	}

	jsonData, err := provider.LoadCatalogState()
	if errors.Is(err, os.ErrNotExist) {
		// Start from scratch
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	if err = result.fromJSON(jsonData); err != nil {
		// Parsing errors are fatal, usually indicating corruption
		return nil, errors.Wrap(err, "failed to parse catalog state")
	}
	if !strings.EqualFold(result.CatalogName, name) {
		return nil, common.NewError(common.ConfigurationError,
			"warehouse holds catalog '%s', not '%s'", result.CatalogName, name)
	}
	return result, nil
}

// Name returns the catalog name, the first part of every identifier it resolves.
func (c *Catalog) Name() string {
	return c.CatalogName
}

// AddTable registers a new, empty table in the catalog.
// It assigns a globally unique ObjectID to the table and persists the updated state. If the table with that name
// already exists, it returns DuplicateObjectError. A freshly added table has version 0 and no data location.
func (c *Catalog) AddTable(namespace, tableName string, columns []Column, provider PersistenceProvider) (*Table, error) {
	t, err := c.addTable(namespace, tableName, columns)
	if err != nil {
		return nil, err
	}
	if err := c.save(provider); err != nil {
		c.dropLast()
		return nil, err
	}
	return t, nil
}

func (c *Catalog) addTable(namespace, tableName string, columns []Column) (*Table, error) {
	if err := validateColumns(namespace, tableName, columns); err != nil {
		return nil, err
	}
	if _, exists := c.tableMap[tableKey(namespace, tableName)]; exists {
		return nil, common.NewError(common.DuplicateObjectError, "table '%s.%s' already exists", namespace, tableName)
	}

	// oid 0 is reserved for INVALID
	c.NextId++

	t := &Table{
		Oid:       common.ObjectID(c.NextId),
		Namespace: namespace,
		Name:      tableName,
		Columns:   columns,
	}

	c.Tables = append(c.Tables, t)
	c.tableMap[tableKey(namespace, tableName)] = t
	return t, nil
}

// NextSnapshot returns the version and data location the next replace of the table will use.
func (c *Catalog) NextSnapshot(namespace, tableName string) Snapshot {
	version := int64(1)
	if existing, exists := c.tableMap[tableKey(namespace, tableName)]; exists {
		version = existing.Version + 1
	}
	return Snapshot{Version: version, Location: DataLocation(namespace, tableName, version)}
}

// CreateOrReplaceTable commits snap as the current contents of the table, registering the table if it is missing.
// The schema is replaced along with the data; the ObjectID of an existing table is kept. The snapshot must be the
// one NextSnapshot returned: if another writer committed in between, the commit fails and nothing changes.
func (c *Catalog) CreateOrReplaceTable(namespace, tableName string, columns []Column, snap Snapshot, provider PersistenceProvider) (*Table, error) {
	if expected := c.NextSnapshot(namespace, tableName); expected != snap {
		return nil, common.NewError(common.DuplicateObjectError,
			"table '%s.%s' is at version %d, cannot commit version %d", namespace, tableName, expected.Version-1, snap.Version)
	}
	existing, exists := c.tableMap[tableKey(namespace, tableName)]
	if !exists {
		t, err := c.addTable(namespace, tableName, columns)
		if err != nil {
			return nil, err
		}
		t.Version, t.Location = snap.Version, snap.Location
		if err := c.save(provider); err != nil {
			c.dropLast()
			return nil, err
		}
		return t, nil
	}
	if err := validateColumns(namespace, tableName, columns); err != nil {
		return nil, err
	}

	previous := *existing
	existing.Columns = columns
	existing.Version, existing.Location = snap.Version, snap.Location
	if err := c.save(provider); err != nil {
		*existing = previous
		return nil, err
	}
	return existing, nil
}

// dropLast undoes an addTable whose state could not be persisted.
func (c *Catalog) dropLast() {
	t := c.Tables[len(c.Tables)-1]
	c.Tables = c.Tables[:len(c.Tables)-1]
	delete(c.tableMap, tableKey(t.Namespace, t.Name))
	c.NextId--
}

// GetTableMetadata fetches the schema for a specific table.
func (c *Catalog) GetTableMetadata(namespace, tableName string) (*Table, error) {
	table, exists := c.tableMap[tableKey(namespace, tableName)]
	if !exists {
		return nil, common.NewError(common.NoSuchObjectError, "table '%s.%s' does not exist", namespace, tableName)
	}
	return table, nil
}

// Resolve looks up a fully qualified identifier, checking that it belongs to this catalog.
func (c *Catalog) Resolve(id Identifier) (*Table, error) {
	if !strings.EqualFold(id.Catalog, c.Name()) {
		return nil, common.NewError(common.NoSuchObjectError, "catalog '%s' does not exist (this is '%s')", id.Catalog, c.Name())
	}
	table, exists := c.tableMap[id.key()]
	if !exists {
		return nil, common.NewError(common.NoSuchObjectError, "table '%s' does not exist", id)
	}
	return table, nil
}

// ListTables returns every table ordered by namespace and name.
func (c *Catalog) ListTables() []*Table {
	tables := make([]*Table, len(c.Tables))
	copy(tables, c.Tables)
	sort.Slice(tables, func(i, j int) bool {
		return tableKey(tables[i].Namespace, tables[i].Name) < tableKey(tables[j].Namespace, tables[j].Name)
	})
	return tables
}

func (c *Catalog) save(provider PersistenceProvider) error {
	jsonData, err := c.toJSON()
	if err != nil {
		return err
	}
	return provider.SaveCatalogState(jsonData)
}

func validateColumns(namespace, tableName string, columns []Column) error {
	if len(columns) == 0 {
		return common.NewError(common.ConfigurationError, "table '%s.%s' needs at least one column", namespace, tableName)
	}
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		name := strings.ToLower(col.Name)
		if name == "" || col.Type == common.DefaultType {
			return common.NewError(common.ConfigurationError, "table '%s.%s' has an unnamed or untyped column", namespace, tableName)
		}
		if seen[name] {
			return common.NewError(common.DuplicateObjectError, "column '%s' appears twice in table '%s.%s'", col.Name, namespace, tableName)
		}
		seen[name] = true
	}
	return nil
}

const CatalogFileName = "catalog.json"

type DiskCatalogManager struct {
	rootPath string
}

func NewDiskCatalogManager(rootPath string) *DiskCatalogManager {
	return &DiskCatalogManager{
		rootPath: rootPath,
	}
}

// LoadCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) LoadCatalogState() (string, error) {
	content, err := os.ReadFile(filepath.Join(dcm.rootPath, CatalogFileName))
	if err != nil {
		return "", err // Let the caller (Catalog) handle os.ErrNotExist
	}
	return string(content), nil
}

// SaveCatalogState implements the catalog.PersistenceProvider interface.
func (dcm *DiskCatalogManager) SaveCatalogState(jsonData string) error {
	// perform an atomic write using a temporary file.
	tmpPath := filepath.Join(dcm.rootPath, CatalogFileName+".tmp")
	finalPath := filepath.Join(dcm.rootPath, CatalogFileName)

	if err := os.MkdirAll(dcm.rootPath, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmpPath, []byte(jsonData), 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
