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

// Package auth RRS 认证边界：校验 HS256 compact JWS 并产出 SourceScope claims。
// 签名比较由 HMAC 验证内部的常量时间比较保证；过期校验带可配置时钟偏移容忍。
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/reason"
)

// Audience / ServiceScope 本服务接受的 token 归属
const (
	Audience     = "rezilient:rrs"
	ServiceScope = "rrs"
)

// Claims 请求方身份三元组及标准声明
type Claims struct {
	ServiceScope string `json:"service_scope"`
	TenantID     string `json:"tenant_id"`
	InstanceID   string `json:"instance_id"`
	Source       string `json:"source"`
	jwt.RegisteredClaims
}

// Verifier HS256 token 校验器
type Verifier struct {
	key    []byte
	leeway time.Duration
	parser *jwt.Parser
}

// NewVerifier 创建校验器；leeway 为 exp/iat 校验的时钟偏移容忍
func NewVerifier(key []byte, leeway time.Duration) *Verifier {
	return &Verifier{
		key:    key,
		leeway: leeway,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256"}),
			jwt.WithLeeway(leeway),
		),
	}
}

// Verify 校验 bearer token；失败时返回词表内的 denied_* reason code
func (v *Verifier) Verify(tokenString string) (*Claims, reason.Code, error) {
	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, reason.DeniedTokenExpired, err
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, reason.DeniedTokenInvalidSignature, err
		default:
			return nil, reason.DeniedTokenMalformed, err
		}
	}
	if claims.ServiceScope != ServiceScope || !containsAudience(claims.Audience, Audience) {
		return nil, reason.DeniedTokenWrongServiceScope, errors.New("auth: token not scoped to rrs")
	}
	if claims.TenantID == "" || claims.InstanceID == "" || claims.Source == "" {
		return nil, reason.DeniedTokenMalformed, errors.New("auth: token missing source scope claims")
	}
	return claims, reason.None, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
