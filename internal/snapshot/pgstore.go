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

package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
)

// 单行表：snapshot_id 恒为 1（CHECK 约束），整个逻辑状态存于 state_json
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
	snapshot_id int PRIMARY KEY CHECK (snapshot_id = 1),
	version bigint NOT NULL,
	state_json text NOT NULL,
	updated_at text NOT NULL
)`

// pgStore PostgreSQL 实现：SELECT ... FOR UPDATE 串行化并发 mutator，
// version+1 随 state_json 在同一事务内提交；任何错误整体回滚。
type pgStore[S any] struct {
	pool  *pgxpool.Pool
	table string
	name  string
	owned bool // pool 由本 store 创建时负责 Close
}

// OpenPool 创建 pgx 连接池并 Ping；poolSize<=0 使用驱动默认
func OpenPool(ctx context.Context, dsn string, poolSize int) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if poolSize > 0 {
		config.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// NewPostgresStore 在共享连接池上创建单行快照存储。
// 首次打开建表，并在行缺失时插入 S 零值状态、version=0。
func NewPostgresStore[S any](ctx context.Context, pool *pgxpool.Pool, table, name string) (Store[S], error) {
	s := &pgStore[S]{pool: pool, table: table, name: name}
	if err := s.ensureRow(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *pgStore[S]) ensureRow(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(createTableSQL, s.table)); err != nil {
		return fmt.Errorf("snapshot: create table %s: %w", s.table, err)
	}
	var zero S
	raw, err := json.Marshal(zero)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (snapshot_id, version, state_json, updated_at)
			VALUES (1, 0, $1, $2) ON CONFLICT (snapshot_id) DO NOTHING`, s.table),
		string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *pgStore[S]) Read(ctx context.Context) (S, int64, error) {
	var out S
	var version int64
	var stateJSON string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT version, state_json FROM %s WHERE snapshot_id = 1`, s.table),
	).Scan(&version, &stateJSON)
	if err != nil {
		return out, 0, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &out); err != nil {
		return out, 0, err
	}
	return out, version, nil
}

func (s *pgStore[S]) Mutate(ctx context.Context, fn func(state *S) error) (int64, error) {
	timer := prometheus.NewTimer(metrics.SnapshotMutateDuration.WithLabelValues(s.name))
	defer timer.ObserveDuration()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var version int64
	var stateJSON string
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT version, state_json FROM %s WHERE snapshot_id = 1 FOR UPDATE`, s.table),
	).Scan(&version, &stateJSON)
	if err != nil {
		return 0, err
	}

	var working S
	if err := json.Unmarshal([]byte(stateJSON), &working); err != nil {
		return 0, err
	}
	if err := fn(&working); err != nil {
		return 0, err
	}
	raw, err := json.Marshal(working)
	if err != nil {
		return 0, err
	}
	newVersion := version + 1
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET version = $1, state_json = $2, updated_at = $3 WHERE snapshot_id = 1`, s.table),
		newVersion, string(raw), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	metrics.SnapshotVersion.WithLabelValues(s.name).Set(float64(newVersion))
	return newVersion, nil
}

// Close 仅当连接池归本 store 所有时关闭（共享池由装配层负责）
func (s *pgStore[S]) Close() {
	if s.owned {
		s.pool.Close()
	}
}
