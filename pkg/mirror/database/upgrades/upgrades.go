// Copyright 2024-2026 Aiku AI

// Package upgrades holds the embedded schema migrations for the mirror
// database.
package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table is the registered upgrade table for the mirror database.
var Table dbutil.UpgradeTable

//go:embed *.sql
var upgrades embed.FS

func init() {
	Table.RegisterFS(upgrades)
}
