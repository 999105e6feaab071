// Copyright 2024 The Quarry Authors.
//
// Use of this software is governed by the Apache License, Version 2.0
// included in the /LICENSE file.

package systable

import (
	"context"

	"github.com/quarrydb/quarry/pkg/util/future"
)

// NodeDescriptor describes the local node for the sys.nodes table.
type NodeDescriptor struct {
	ID      string
	Name    string
	Address string
}

// Catalog bundles the three static schema registries and resolves relation
// names to table definitions.
type Catalog struct {
	informationSchema *Registry
	sys               *Registry
	pgCatalog         *Registry
}

// NewCatalog returns a catalog with the built-in tables registered:
// sys.nodes, information_schema.tables, and a minimal pg_catalog.pg_type.
func NewCatalog(localNode NodeDescriptor) *Catalog {
	c := &Catalog{
		informationSchema: NewRegistry(InformationSchema),
		sys:               NewRegistry(Sys),
		pgCatalog:         NewRegistry(PgCatalog),
	}
	c.registerBuiltins(localNode)
	return c
}

// Definition resolves a relation name. Unknown schema and unknown relation
// are distinct errors: the former means the query was routed to the wrong
// source, the latter that the table does not exist.
func (c *Catalog) Definition(rel RelationName) (*Definition, error) {
	var reg *Registry
	switch rel.Schema {
	case InformationSchema:
		reg = c.informationSchema
	case Sys:
		reg = c.sys
	case PgCatalog:
		reg = c.pgCatalog
	default:
		return nil, NewSchemaUnknown(rel.Schema)
	}
	def := reg.Get(rel.Table)
	if def == nil {
		return nil, NewRelationUnknown(rel)
	}
	return def, nil
}

// Register adds a table definition to the schema's registry. Unknown
// schemas are rejected.
func (c *Catalog) Register(rel RelationName, def *Definition) error {
	switch rel.Schema {
	case InformationSchema:
		c.informationSchema.Register(rel.Table, def)
	case Sys:
		c.sys.Register(rel.Table, def)
	case PgCatalog:
		c.pgCatalog.Register(rel.Table, def)
	default:
		return NewSchemaUnknown(rel.Schema)
	}
	return nil
}

type pgType struct {
	oid  int
	name string
}

func (c *Catalog) registerBuiltins(localNode NodeDescriptor) {
	c.sys.Register("nodes", &Definition{
		Retrieve: func(context.Context, string) *future.Future[[]interface{}] {
			return future.Value([]interface{}{localNode})
		},
		Columns: []Column{
			{Name: "id", Extract: func(rec interface{}) interface{} { return rec.(NodeDescriptor).ID }},
			{Name: "name", Extract: func(rec interface{}) interface{} { return rec.(NodeDescriptor).Name }},
			{Name: "address", Extract: func(rec interface{}) interface{} { return rec.(NodeDescriptor).Address }},
		},
	})

	c.informationSchema.Register("tables", &Definition{
		Retrieve: func(context.Context, string) *future.Future[[]interface{}] {
			var records []interface{}
			for _, reg := range []*Registry{c.informationSchema, c.sys, c.pgCatalog} {
				for _, table := range reg.Tables() {
					records = append(records, RelationName{Schema: reg.Schema(), Table: table})
				}
			}
			return future.Value(records)
		},
		Columns: []Column{
			{Name: "table_schema", Extract: func(rec interface{}) interface{} { return rec.(RelationName).Schema }},
			{Name: "table_name", Extract: func(rec interface{}) interface{} { return rec.(RelationName).Table }},
		},
	})

	c.pgCatalog.Register("pg_type", &Definition{
		Retrieve: func(context.Context, string) *future.Future[[]interface{}] {
			return future.Value([]interface{}{
				pgType{16, "bool"},
				pgType{20, "int8"},
				pgType{701, "float8"},
				pgType{25, "text"},
			})
		},
		Columns: []Column{
			{Name: "oid", Extract: func(rec interface{}) interface{} { return rec.(pgType).oid }},
			{Name: "typname", Extract: func(rec interface{}) interface{} { return rec.(pgType).name }},
		},
	})
}
