// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

// Package systable holds the static definitions behind system tables:
// virtual tables whose records are produced in memory and projected to rows
// on the fly. Three schemas exist: information_schema, sys, and pg_catalog.
package systable

import (
	"context"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/pkg/sql/rowstream"
	"github.com/quarrydb/quarry/pkg/util/future"
	"github.com/quarrydb/quarry/pkg/util/syncutil"
)

// Schema names served by the static catalog.
const (
	InformationSchema = "information_schema"
	Sys               = "sys"
	PgCatalog         = "pg_catalog"
)

// ErrSchemaUnknown marks lookups of schemas the catalog does not serve.
var ErrSchemaUnknown = errors.New("schema unknown")

// ErrRelationUnknown marks lookups of tables that do not exist within a
// known schema.
var ErrRelationUnknown = errors.New("relation unknown")

// NewSchemaUnknown returns an ErrSchemaUnknown for the given schema.
func NewSchemaUnknown(schema string) error {
	return errors.Wrapf(ErrSchemaUnknown, "%q", schema)
}

// NewRelationUnknown returns an ErrRelationUnknown for the given relation.
func NewRelationUnknown(rel RelationName) error {
	return errors.Wrapf(ErrRelationUnknown, "%q", rel.FQN())
}

// RelationName identifies a table within a schema.
type RelationName struct {
	Schema string
	Table  string
}

// ParseRelationName splits a qualified table name. Unqualified names
// resolve to the "doc" schema, which the static catalog does not serve.
func ParseRelationName(name string) RelationName {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return RelationName{Schema: name[:i], Table: name[i+1:]}
	}
	return RelationName{Schema: "doc", Table: name}
}

// FQN returns the fully qualified name.
func (r RelationName) FQN() string {
	return r.Schema + "." + r.Table
}

// Column projects one cell out of a record.
type Column struct {
	Name    string
	Extract func(record interface{}) interface{}
}

// Definition is a static table: an asynchronous record retrieval plus the
// column projection turning records into rows.
type Definition struct {
	// Retrieve produces the table's records for the given user. The
	// records may come from a remote call; hence the future.
	Retrieve func(ctx context.Context, user string) *future.Future[[]interface{}]
	Columns  []Column
}

// RowsFromRecords projects records into rows.
func (d *Definition) RowsFromRecords(records []interface{}) []rowstream.Row {
	rows := make([]rowstream.Row, len(records))
	for i, rec := range records {
		row := make(rowstream.Row, len(d.Columns))
		for j, col := range d.Columns {
			row[j] = col.Extract(rec)
		}
		rows[i] = row
	}
	return rows
}

// Registry maps table names to definitions within one schema.
type Registry struct {
	schema string

	mu struct {
		syncutil.RWMutex
		tables map[string]*Definition
	}
}

// NewRegistry returns an empty registry for the given schema.
func NewRegistry(schema string) *Registry {
	r := &Registry{schema: schema}
	r.mu.tables = make(map[string]*Definition)
	return r
}

// Register adds or replaces a table definition.
func (r *Registry) Register(table string, def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.tables[table] = def
}

// Get returns the definition for table, or nil.
func (r *Registry) Get(table string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mu.tables[table]
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.mu.tables))
	for name := range r.mu.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Schema returns the registry's schema name.
func (r *Registry) Schema() string { return r.schema }
