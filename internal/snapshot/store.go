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

// Package snapshot 单行版本化状态容器：整个逻辑状态作为一个 JSON 文档持久化，
// mutate 在可串行化的事务（SQL）或互斥锁（内存）下执行并以 version+1 原子安装。
// mutator 必须对输入状态确定且可重试幂等：每次调用都拿到重新解析的状态副本。
package snapshot

import (
	"context"
	"errors"
)

var (
	// ErrClosed 存储已关闭
	ErrClosed = errors.New("snapshot: store closed")
)

// Store 单行快照存储。S 为完整逻辑状态类型，必须可 JSON 序列化。
// Read 返回深拷贝，调用方可长期持有；Mutate 串行化所有写入。
type Store[S any] interface {
	// Read 返回当前状态的深拷贝及其版本号
	Read(ctx context.Context) (S, int64, error)
	// Mutate 在工作副本上执行 fn，成功则以 version+1 原子安装；fn 返回错误时整体回滚
	Mutate(ctx context.Context, fn func(state *S) error) (int64, error)
	// Close 释放底层资源
	Close()
}
