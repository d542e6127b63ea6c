package gridbase

import (
	"fmt"
	"time"
)

// FormulaMode controls how compiler-level faults are handled. In permissive
// mode an unknown column or a malformed formula degrades to SQL NULL and is
// logged; in strict mode it is surfaced as a bad-request error.
type FormulaMode string

const (
	FormulaModePermissive FormulaMode = "permissive"
	FormulaModeStrict     FormulaMode = "strict"
)

// Config consolidates engine settings.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Query    QueryConfig    `json:"query"`
	Formula  FormulaConfig  `json:"formula"`
	Copy     CopyConfig     `json:"copy"`
	Bulk     BulkConfig     `json:"bulk"`
}

// TableNames holds the names of the three physical storage tables.
type TableNames struct {
	Records string `json:"records"`
	Links   string `json:"links"`
	Schemas string `json:"schemas"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	DSN             string        `json:"dsn"`
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	TableNames      TableNames    `json:"tableNames"`
}

// QueryConfig contains query execution settings.
type QueryConfig struct {
	Timeout      time.Duration `json:"timeout"`
	LimitDefault int           `json:"limitDefault"`
	LimitMin     int           `json:"limitMin"`
	LimitMax     int           `json:"limitMax"`
}

// FormulaConfig contains formula compiler settings.
type FormulaConfig struct {
	Mode FormulaMode `json:"mode"`
	// MaxDepth bounds recursive resolution of virtual columns referenced
	// from formulas (formula-in-formula).
	MaxDepth int `json:"maxDepth"`
}

// CopyConfig contains record-copy settings.
type CopyConfig struct {
	MaxDepth int `json:"maxDepth"`
}

// BulkConfig contains bulk operation settings.
type BulkConfig struct {
	ChunkSize int `json:"chunkSize"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			TableNames: TableNames{
				Records: "grid_records",
				Links:   "grid_links",
				Schemas: "grid_schemas",
			},
		},
		Query: QueryConfig{
			Timeout:      30 * time.Second,
			LimitDefault: 25,
			LimitMin:     1,
			LimitMax:     1000,
		},
		Formula: FormulaConfig{
			Mode:     FormulaModePermissive,
			MaxDepth: 8,
		},
		Copy: CopyConfig{
			MaxDepth: 3,
		},
		Bulk: BulkConfig{
			ChunkSize: 100,
		},
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Database.TableNames.Records == "" {
		return fmt.Errorf("records table name cannot be empty")
	}
	if c.Database.TableNames.Links == "" {
		return fmt.Errorf("links table name cannot be empty")
	}
	if c.Database.TableNames.Schemas == "" {
		return fmt.Errorf("schemas table name cannot be empty")
	}
	if c.Query.LimitMin <= 0 {
		return fmt.Errorf("limitMin must be positive")
	}
	if c.Query.LimitMax < c.Query.LimitMin {
		return fmt.Errorf("limitMax must be >= limitMin")
	}
	if c.Query.LimitDefault < c.Query.LimitMin || c.Query.LimitDefault > c.Query.LimitMax {
		return fmt.Errorf("limitDefault must lie within [limitMin, limitMax]")
	}
	if c.Formula.MaxDepth <= 0 {
		return fmt.Errorf("formula maxDepth must be positive")
	}
	if c.Copy.MaxDepth <= 0 {
		return fmt.Errorf("copy maxDepth must be positive")
	}
	if c.Bulk.ChunkSize <= 0 {
		return fmt.Errorf("bulk chunkSize must be positive")
	}
	switch c.Formula.Mode {
	case FormulaModePermissive, FormulaModeStrict:
	default:
		return fmt.Errorf("unknown formula mode: %s", c.Formula.Mode)
	}
	return nil
}

// ClampLimit clamps a requested page size into [LimitMin, LimitMax],
// substituting the default for non-positive values.
func (q QueryConfig) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = q.LimitDefault
	}
	if limit < q.LimitMin {
		limit = q.LimitMin
	}
	if limit > q.LimitMax {
		limit = q.LimitMax
	}
	return limit
}
