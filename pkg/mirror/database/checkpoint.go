// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"go.mau.fi/util/dbutil"
)

const (
	keyApplied      = "applied"
	keyExpectedNext = "expectedNext"
)

// Checkpoint is the persisted sequence position. Applied is the last
// sequence number whose event was fully applied; ExpectedNext predicts
// the next incoming sequence. HasApplied/HasExpected distinguish a fresh
// database from a zero value.
type Checkpoint struct {
	Applied      int64
	ExpectedNext int64
	HasApplied   bool
	HasExpected  bool
}

// CheckpointQuery reads and writes the bot_state key/value rows backing
// the checkpoint.
type CheckpointQuery struct {
	db *dbutil.Database
}

const (
	getStateQuery = `SELECT value FROM bot_state WHERE key=$1`
	putStateQuery = `
		INSERT INTO bot_state (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value
	`
)

func (cq *CheckpointQuery) getInt64(ctx context.Context, key string) (value int64, found bool, err error) {
	var raw string
	err = cq.db.QueryRow(ctx, getStateQuery, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	value, err = strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupted %s state %q: %w", key, raw, err)
	}
	return value, true, nil
}

// Get loads the current checkpoint.
func (cq *CheckpointQuery) Get(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	var err error
	cp.Applied, cp.HasApplied, err = cq.getInt64(ctx, keyApplied)
	if err != nil {
		return nil, err
	}
	cp.ExpectedNext, cp.HasExpected, err = cq.getInt64(ctx, keyExpectedNext)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Put stores both checkpoint keys in one transaction so a crash can't
// split them.
func (cq *CheckpointQuery) Put(ctx context.Context, applied, expectedNext int64) error {
	return cq.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := cq.db.Exec(ctx, putStateQuery, keyApplied, strconv.FormatInt(applied, 10)); err != nil {
			return err
		}
		_, err := cq.db.Exec(ctx, putStateQuery, keyExpectedNext, strconv.FormatInt(expectedNext, 10))
		return err
	})
}

// InitApplied records the initial position of a fresh mirror without
// touching expectedNext.
func (cq *CheckpointQuery) InitApplied(ctx context.Context, applied int64) error {
	_, err := cq.db.Exec(ctx, putStateQuery, keyApplied, strconv.FormatInt(applied, 10))
	return err
}
