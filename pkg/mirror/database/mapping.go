// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"database/sql"
	"strings"

	"go.mau.fi/util/dbutil"
)

// Mapping is one row of the dedup/idempotency ledger: a source item that
// was successfully published, keyed by its id, unique on the target post
// id. Sequence records the checkpoint position at creation time.
type Mapping struct {
	SourceID int64
	TargetID string
	Sequence sql.NullInt64
}

func newMapping(_ *dbutil.QueryHelper[*Mapping]) *Mapping {
	return &Mapping{}
}

func (m *Mapping) Scan(row dbutil.Scannable) (*Mapping, error) {
	return dbutil.ValueOrErr(m, row.Scan(&m.SourceID, &m.TargetID, &m.Sequence))
}

func (m *Mapping) sqlVariables() []any {
	return []any{m.SourceID, m.TargetID, m.Sequence}
}

// MappingQuery is the typed query set over message_map.
type MappingQuery struct {
	*dbutil.QueryHelper[*Mapping]
}

const (
	getMappingBaseQuery        = `SELECT source_id, target_id, sequence FROM message_map`
	getMappingBySourceIDQuery  = getMappingBaseQuery + ` WHERE source_id=$1`
	insertMappingQuery         = `INSERT INTO message_map (source_id, target_id, sequence) VALUES ($1, $2, $3)`
	deleteMappingBySourceQuery = `DELETE FROM message_map WHERE source_id=$1`
)

// GetBySourceID returns the mapping for a source item, or nil when the
// item was never published.
func (mq *MappingQuery) GetBySourceID(ctx context.Context, sourceID int64) (*Mapping, error) {
	return mq.QueryOne(ctx, getMappingBySourceIDQuery, sourceID)
}

// GetByTargetIDs returns every mapping whose target post id is in ids.
func (mq *MappingQuery) GetByTargetIDs(ctx context.Context, ids []string) ([]*Mapping, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := getMappingBaseQuery + ` WHERE target_id IN (` + strings.Join(placeholders, ",") + `)`
	return mq.QueryMany(ctx, query, args...)
}

// Insert records a successful publish. It fails on a duplicate source or
// target id; the caller treats that as the idempotency guard tripping.
func (mq *MappingQuery) Insert(ctx context.Context, m *Mapping) error {
	return mq.Exec(ctx, insertMappingQuery, m.sqlVariables()...)
}

// DeleteBySourceID removes the ledger row after the target post is gone.
func (mq *MappingQuery) DeleteBySourceID(ctx context.Context, sourceID int64) error {
	return mq.Exec(ctx, deleteMappingBySourceQuery, sourceID)
}
