// Copyright 2024-2026 Aiku AI

// Package database is the durable state of the mirror: the sequence
// checkpoint and the source→target dedup/mapping ledger.
package database

import (
	"go.mau.fi/util/dbutil"

	"github.com/aiku/chanmirror/pkg/mirror/database/upgrades"
)

// Database wraps a dbutil.Database with the mirror's typed queries.
type Database struct {
	*dbutil.Database

	Checkpoint *CheckpointQuery
	Mapping    *MappingQuery
}

// New attaches the mirror schema and queries to a raw database handle.
// Call Upgrade before first use.
func New(db *dbutil.Database) *Database {
	db.UpgradeTable = upgrades.Table
	return &Database{
		Database:   db,
		Checkpoint: &CheckpointQuery{db},
		Mapping:    &MappingQuery{dbutil.MakeQueryHelper(db, newMapping)},
	}
}
