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

package auth

import (
	"context"
)

type contextKey string

const claimsKey contextKey = "auth.claims"

// WithClaims 将校验通过的 claims 注入 context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims 从 context 获取 claims；未认证时返回 nil
func GetClaims(ctx context.Context) *Claims {
	if v, ok := ctx.Value(claimsKey).(*Claims); ok {
		return v
	}
	return nil
}

// GetTenantID 从 context 获取 tenant_id
func GetTenantID(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.TenantID
	}
	return ""
}

// GetInstanceID 从 context 获取 instance_id
func GetInstanceID(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.InstanceID
	}
	return ""
}

// GetSource 从 context 获取 source
func GetSource(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Source
	}
	return ""
}
