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

// Package api 装配 API 应用：快照存储、源映射解析、水位读取、
// 计划与任务服务、HTTP Router 与 Middleware。
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/jackc/pgx/v5/pgxpool"

	apihttp "github.com/bdpdx/rezilient-restore-service-sub001/internal/api/http"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/api/http/middleware"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/app"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/job"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/plan"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/registry"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/snapshot"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/storage/cache"
	"github.com/bdpdx/rezilient-restore-service-sub001/internal/watermark"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/auth"
	"github.com/bdpdx/rezilient-restore-service-sub001/pkg/config"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Handler、Middleware 与底层存储）
type App struct {
	config       *app.Bootstrap
	handler      *apihttp.Handler
	authMW       *middleware.AuthMiddleware
	rps          int
	hertz        *server.Hertz
	otelProvider otelProviderShutdown

	pool       *pgxpool.Pool // snapshot 共享连接池，可为 nil
	indexPool  *pgxpool.Pool // restore_index 独立连接池，仅 DSN 不同时创建
	cacheStore cache.Store
	planStore  snapshot.Store[plan.State]
	jobStore   snapshot.Store[job.State]
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	cfg := bootstrap.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	ctx := context.Background()
	a := &App{config: bootstrap}

	if err := a.initResolverAndStores(ctx, cfg, bootstrap); err != nil {
		a.closeResources(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) initResolverAndStores(ctx context.Context, cfg *config.Config, bootstrap *app.Bootstrap) error {
	// 源映射解析链：local/external 解析器外包一层结果缓存
	cacheStore, err := cache.NewCache(ctx, cfg.Registry.Cache)
	if err != nil {
		return fmt.Errorf("初始化解析缓存失败: %w", err)
	}
	a.cacheStore = cacheStore

	var inner registry.Resolver
	switch cfg.Registry.Type {
	case "external":
		if cfg.Registry.ACP.BaseURL == "" {
			return fmt.Errorf("registry.type=external 需要配置 registry.acp.base_url")
		}
		inner = registry.NewExternalResolver(
			cfg.Registry.ACP.BaseURL,
			cfg.Registry.ACP.Token,
			time.Duration(cfg.Registry.ACP.TimeoutMS)*time.Millisecond,
		)
	default:
		inner = registry.NewLocalResolver(cfg.Registry.Static)
	}
	resolver := registry.NewCachedResolver(inner, cacheStore,
		parseDuration(cfg.Registry.Cache.PositiveTTL, 5*time.Minute),
		parseDuration(cfg.Registry.Cache.NegativeTTL, 30*time.Second))

	// 快照存储：plans 与 jobs 两个单行逻辑存储，postgres 时共用连接池
	var planStore snapshot.Store[plan.State]
	var jobStore snapshot.Store[job.State]
	if cfg.Snapshot.Type == "postgres" {
		if cfg.Snapshot.DSN == "" {
			return fmt.Errorf("snapshot.type=postgres 需要配置 snapshot.dsn")
		}
		pool, err := snapshot.OpenPool(ctx, cfg.Snapshot.DSN, cfg.Snapshot.PoolSize)
		if err != nil {
			return fmt.Errorf("连接快照数据库失败: %w", err)
		}
		a.pool = pool
		planStore, err = snapshot.NewPostgresStore[plan.State](ctx, pool, "rrs_plan_state_snapshots", "plans")
		if err != nil {
			return fmt.Errorf("初始化计划快照存储失败: %w", err)
		}
		jobStore, err = snapshot.NewPostgresStore[job.State](ctx, pool, "rrs_job_state_snapshots", "jobs")
		if err != nil {
			return fmt.Errorf("初始化任务快照存储失败: %w", err)
		}
	} else {
		planStore, err = snapshot.NewMemoryStore[plan.State]("plans")
		if err != nil {
			return fmt.Errorf("初始化计划快照存储失败: %w", err)
		}
		jobStore, err = snapshot.NewMemoryStore[job.State]("jobs")
		if err != nil {
			return fmt.Errorf("初始化任务快照存储失败: %w", err)
		}
	}
	a.planStore = planStore
	a.jobStore = jobStore

	reader, err := a.newWatermarkReader(ctx, cfg)
	if err != nil {
		return err
	}

	plans := plan.NewService(planStore, reader, resolver, bootstrap.Logger)
	jobs := job.NewService(jobStore, plans, resolver, cfg.Capabilities, bootstrap.Logger)

	if cfg.API.Middleware.JWTKey == "" {
		return fmt.Errorf("api.middleware.jwt_key 未配置")
	}
	verifier := auth.NewVerifier([]byte(cfg.API.Middleware.JWTKey),
		parseDuration(cfg.API.Middleware.ClockSkew, 30*time.Second))

	a.handler = apihttp.NewHandler(plans, jobs)
	a.authMW = middleware.NewAuthMiddleware(verifier)
	if cfg.API.Middleware.RateLimit {
		a.rps = cfg.API.Middleware.RateLimitRPS
	}
	return nil
}

// newWatermarkReader 按配置创建权威水位读取器；
// restore_index.dsn 为空时复用 snapshot 连接池
func (a *App) newWatermarkReader(ctx context.Context, cfg *config.Config) (watermark.Reader, error) {
	if cfg.RestoreIndex.Type != "postgres" {
		return watermark.NewMemoryReader(), nil
	}
	pool := a.pool
	if cfg.RestoreIndex.DSN != "" {
		p, err := snapshot.OpenPool(ctx, cfg.RestoreIndex.DSN, 0)
		if err != nil {
			return nil, fmt.Errorf("连接水位索引数据库失败: %w", err)
		}
		a.indexPool = p
		pool = p
	}
	if pool == nil {
		return nil, fmt.Errorf("restore_index.type=postgres 需要配置 restore_index.dsn 或 snapshot.dsn")
	}
	reader, err := watermark.NewPostgresReader(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("初始化水位读取器失败: %w", err)
	}
	return reader, nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)
	cfg := a.config.Config

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if cfg != nil && cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	if cfg != nil {
		switch cfg.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		}
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if cfg != nil && cfg.Monitoring.Tracing.Enable {
		serviceName := cfg.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "rrs-api"
		}
		exportEndpoint := cfg.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if cfg.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			a.otelProvider = provider.NewOpenTelemetryProvider(opts...)
			tracerOpt, tracerCfg := hertztracing.NewServerTracer()
			a.hertz = server.New(server.WithHostPorts(addr), tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(tracerCfg))
			a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		}
	}
	if a.hertz == nil {
		a.hertz = server.New(server.WithHostPorts(addr))
	}

	apihttp.RegisterRoutes(a.hertz, a.handler, a.authMW, a.rps)
	return a.hertz.Run()
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.hertz != nil {
		err = a.hertz.Shutdown(ctx)
	}
	a.closeResources(ctx)
	return err
}

func (a *App) closeResources(ctx context.Context) {
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.planStore != nil {
		a.planStore.Close()
	}
	if a.jobStore != nil {
		a.jobStore.Close()
	}
	if a.cacheStore != nil {
		_ = a.cacheStore.Close()
	}
	if a.indexPool != nil {
		a.indexPool.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
