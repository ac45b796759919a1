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

package registry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/metrics"
)

const defaultACPTimeout = 2 * time.Second

// acpNotFoundReason ACP 在 404 响应体中标识「映射确实不存在」的 reason code；
// 缺少该标识的 404 视为控制面异常（outage），不落入 not_found
const acpNotFoundReason = "unknown_source_mapping"

// ExternalResolver 进程外 ACP 控制面客户端。
// 超时为绝对毫秒 deadline；到期或非 2xx/非 404 一律 outage，核心不做重试。
type ExternalResolver struct {
	client  *resty.Client
	baseURL string
}

// acpErrorBody ACP 错误响应体
type acpErrorBody struct {
	Error      string `json:"error"`
	ReasonCode string `json:"reason_code"`
	Message    string `json:"message"`
}

// NewExternalResolver 创建 ACP 客户端；token 为内部 bearer token
func NewExternalResolver(baseURL, token string, timeout time.Duration) *ExternalResolver {
	if timeout <= 0 {
		timeout = defaultACPTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetAuthToken(token)
	client.SetHeader("Content-Type", "application/json")
	return &ExternalResolver{client: client, baseURL: baseURL}
}

// ResolveSourceMapping POST /v1/source-mappings/resolve
func (r *ExternalResolver) ResolveSourceMapping(ctx context.Context, req Request) Resolution {
	var mapping Mapping
	var errBody acpErrorBody
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&mapping).
		SetError(&errBody).
		Post(r.baseURL + "/v1/source-mappings/resolve")
	if err != nil {
		metrics.ACPResolveTotal.WithLabelValues(string(OutcomeOutage)).Inc()
		return Resolution{Outcome: OutcomeOutage, Message: fmt.Sprintf("acp request failed: %v", err)}
	}

	switch {
	case resp.StatusCode() >= 200 && resp.StatusCode() < 300:
		metrics.ACPResolveTotal.WithLabelValues(string(OutcomeFound)).Inc()
		m := mapping
		return Resolution{Outcome: OutcomeFound, Mapping: &m}
	case resp.StatusCode() == http.StatusNotFound && errBody.ReasonCode == acpNotFoundReason:
		metrics.ACPResolveTotal.WithLabelValues(string(OutcomeNotFound)).Inc()
		return Resolution{Outcome: OutcomeNotFound}
	default:
		metrics.ACPResolveTotal.WithLabelValues(string(OutcomeOutage)).Inc()
		return Resolution{
			Outcome: OutcomeOutage,
			Message: fmt.Sprintf("acp status %d: %s", resp.StatusCode(), errBody.Message),
			Status:  resp.StatusCode(),
		}
	}
}
