// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	rawDB, err := dbutil.NewWithDialect(filepath.Join(t.TempDir(), "test.db"), "sqlite3")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db := New(rawDB)
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("failed to upgrade test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCheckpointFreshDatabase(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	cp, err := db.Checkpoint.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cp.HasApplied || cp.HasExpected {
		t.Errorf("fresh checkpoint claims saved state: %+v", cp)
	}
}

func TestCheckpointPutAndGet(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Checkpoint.Put(ctx, 105, 106); err != nil {
		t.Fatalf("Put: %v", err)
	}
	cp, err := db.Checkpoint.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !cp.HasApplied || cp.Applied != 105 {
		t.Errorf("applied: got %+v, want 105", cp)
	}
	if !cp.HasExpected || cp.ExpectedNext != 106 {
		t.Errorf("expectedNext: got %+v, want 106", cp)
	}

	// Put overwrites both keys.
	if err = db.Checkpoint.Put(ctx, 110, 112); err != nil {
		t.Fatalf("second Put: %v", err)
	}
	cp, err = db.Checkpoint.Get(ctx)
	if err != nil {
		t.Fatalf("Get after overwrite: %v", err)
	}
	if cp.Applied != 110 || cp.ExpectedNext != 112 {
		t.Errorf("overwrite: got %+v", cp)
	}
}

func TestCheckpointInitAppliedLeavesExpectedUnset(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Checkpoint.InitApplied(ctx, 500); err != nil {
		t.Fatalf("InitApplied: %v", err)
	}
	cp, err := db.Checkpoint.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !cp.HasApplied || cp.Applied != 500 {
		t.Errorf("applied: got %+v, want 500", cp)
	}
	if cp.HasExpected {
		t.Errorf("expectedNext should be unset: %+v", cp)
	}
}

func TestMappingInsertAndGet(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	m := &Mapping{SourceID: 12345, TargetID: "status-1", Sequence: sql.NullInt64{Int64: 200, Valid: true}}
	if err := db.Mapping.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := db.Mapping.GetBySourceID(ctx, 12345)
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if got == nil || got.TargetID != "status-1" || !got.Sequence.Valid || got.Sequence.Int64 != 200 {
		t.Errorf("GetBySourceID: got %+v", got)
	}
}

func TestMappingGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	got, err := db.Mapping.GetBySourceID(context.Background(), 404)
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if got != nil {
		t.Errorf("missing mapping: got %+v, want nil", got)
	}
}

func TestMappingInsertDuplicateSourceFails(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Mapping.Insert(ctx, &Mapping{SourceID: 1, TargetID: "a"}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := db.Mapping.Insert(ctx, &Mapping{SourceID: 1, TargetID: "b"}); err == nil {
		t.Error("duplicate source id insert succeeded")
	}
	if err := db.Mapping.Insert(ctx, &Mapping{SourceID: 2, TargetID: "a"}); err == nil {
		t.Error("duplicate target id insert succeeded")
	}
}

func TestMappingGetByTargetIDs(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		err := db.Mapping.Insert(ctx, &Mapping{SourceID: i, TargetID: "status-" + string(rune('0'+i))})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	got, err := db.Mapping.GetByTargetIDs(ctx, []string{"status-1", "status-3", "status-9"})
	if err != nil {
		t.Fatalf("GetByTargetIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetByTargetIDs: got %d rows, want 2", len(got))
	}

	empty, err := db.Mapping.GetByTargetIDs(ctx, nil)
	if err != nil {
		t.Fatalf("GetByTargetIDs(nil): %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("GetByTargetIDs(nil): got %d rows", len(empty))
	}
}

func TestMappingDelete(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	if err := db.Mapping.Insert(ctx, &Mapping{SourceID: 7, TargetID: "status-7"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := db.Mapping.DeleteBySourceID(ctx, 7); err != nil {
		t.Fatalf("DeleteBySourceID: %v", err)
	}
	got, err := db.Mapping.GetBySourceID(ctx, 7)
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if got != nil {
		t.Errorf("mapping survived delete: %+v", got)
	}
	// Deleting an absent row is not an error.
	if err = db.Mapping.DeleteBySourceID(ctx, 7); err != nil {
		t.Errorf("repeated delete: %v", err)
	}
}
