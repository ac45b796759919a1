// Copyright 2026 bdpdx
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package watermark

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/errors"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

const createIndexTableSQL = `
CREATE TABLE IF NOT EXISTS rrs_restore_index (
    tenant_id            text NOT NULL,
    instance_id          text NOT NULL,
    source               text NOT NULL,
    topic                text NOT NULL,
    partition            bigint NOT NULL,
    freshness            text NOT NULL,
    executability        text NOT NULL,
    reason_code          text NOT NULL DEFAULT '',
    indexed_through_time text NOT NULL DEFAULT '',
    measured_at          text NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, instance_id, source, topic, partition)
)`

// PostgresReader 生产环境水位索引，复用快照层的 pgxpool
type PostgresReader struct {
	pool *pgxpool.Pool
}

// NewPostgresReader 建表（幂等）并返回读取器
func NewPostgresReader(ctx context.Context, pool *pgxpool.Pool) (*PostgresReader, error) {
	if _, err := pool.Exec(ctx, createIndexTableSQL); err != nil {
		return nil, errors.Wrap(err, "create restore index table")
	}
	return &PostgresReader{pool: pool}, nil
}

func (r *PostgresReader) ReadWatermarksForPartitions(ctx context.Context, scope Scope, partitions []Partition, measuredAt time.Time) ([]Watermark, error) {
	out := make([]Watermark, 0, len(partitions))
	for _, p := range partitions {
		var wm Watermark
		err := r.pool.QueryRow(ctx,
			`SELECT topic, partition, freshness, executability, reason_code, indexed_through_time, measured_at
			   FROM rrs_restore_index
			  WHERE tenant_id = $1 AND instance_id = $2 AND source = $3 AND topic = $4 AND partition = $5`,
			scope.TenantID, scope.InstanceID, scope.Source, p.Topic, p.Partition,
		).Scan(&wm.Topic, &wm.Partition, &wm.Freshness, &wm.Executability, &wm.ReasonCode,
			&wm.IndexedThroughTime, &wm.MeasuredAt)
		if err == pgx.ErrNoRows {
			out = append(out, MissingWatermark(p, measuredAt))
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read watermark %s/%d", p.Topic, p.Partition)
		}
		out = append(out, wm)
	}
	return out, nil
}

func (r *PostgresReader) ListWatermarksForSource(ctx context.Context, scope Scope) ([]Watermark, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT topic, partition, freshness, executability, reason_code, indexed_through_time, measured_at
		   FROM rrs_restore_index
		  WHERE tenant_id = $1 AND instance_id = $2 AND source = $3
		  ORDER BY topic, partition`,
		scope.TenantID, scope.InstanceID, scope.Source)
	if err != nil {
		return nil, errors.Wrap(err, "list watermarks")
	}
	defer rows.Close()

	var out []Watermark
	for rows.Next() {
		var wm Watermark
		if err := rows.Scan(&wm.Topic, &wm.Partition, &wm.Freshness, &wm.Executability, &wm.ReasonCode,
			&wm.IndexedThroughTime, &wm.MeasuredAt); err != nil {
			return nil, errors.Wrap(err, "scan watermark")
		}
		out = append(out, wm)
	}
	return out, rows.Err()
}

// Upsert 写入一条水位，供索引同步任务与集成测试使用
func (r *PostgresReader) Upsert(ctx context.Context, scope Scope, wm Watermark) error {
	code := wm.ReasonCode
	if code == "" {
		code = reason.None
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO rrs_restore_index
		        (tenant_id, instance_id, source, topic, partition, freshness, executability, reason_code, indexed_through_time, measured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, instance_id, source, topic, partition) DO UPDATE SET
		        freshness = EXCLUDED.freshness,
		        executability = EXCLUDED.executability,
		        reason_code = EXCLUDED.reason_code,
		        indexed_through_time = EXCLUDED.indexed_through_time,
		        measured_at = EXCLUDED.measured_at`,
		scope.TenantID, scope.InstanceID, scope.Source,
		wm.Topic, wm.Partition, wm.Freshness, wm.Executability, string(code),
		wm.IndexedThroughTime, wm.MeasuredAt)
	return errors.Wrap(err, "upsert watermark")
}
