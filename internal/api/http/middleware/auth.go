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

package middleware

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// AuthMiddleware bearer token 认证中间件
type AuthMiddleware struct {
	verifier *auth.Verifier
}

// NewAuthMiddleware 创建认证中间件
func NewAuthMiddleware(verifier *auth.Verifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// RequireToken 校验 Authorization: Bearer <jws>，失败返回 401 与 denied_* reason code，
// 成功时把 claims 注入请求上下文
func (a *AuthMiddleware) RequireToken() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		header := string(c.GetHeader("Authorization"))
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(c, reason.DeniedTokenMalformed, "missing bearer token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		claims, code, err := a.verifier.Verify(token)
		if err != nil {
			unauthorized(c, code, "token rejected")
			return
		}
		c.Next(auth.WithClaims(ctx, claims))
	}
}

func unauthorized(c *app.RequestContext, code reason.Code, message string) {
	c.JSON(consts.StatusUnauthorized, map[string]string{
		"error":       "unauthorized",
		"reason_code": string(code),
		"message":     message,
	})
	c.Abort()
}
