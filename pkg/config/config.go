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

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	RestoreIndex RestoreIndexConfig `mapstructure:"restore_index"`
	Capabilities []string           `mapstructure:"capabilities"`
	Log          LogConfig          `mapstructure:"log"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth         bool   `mapstructure:"auth"`
	JWTKey       string `mapstructure:"jwt_key"`
	ClockSkew    string `mapstructure:"clock_skew"` // token 过期校验容忍偏移，如 "30s"
	RateLimit    bool   `mapstructure:"rate_limit"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"`
}

// SnapshotConfig 快照存储配置（plans 与 jobs 两个单行逻辑存储共用后端）
type SnapshotConfig struct {
	Type     string `mapstructure:"type"`      // memory | postgres
	DSN      string `mapstructure:"dsn"`       // Postgres 连接串，type=postgres 时必填
	PoolSize int    `mapstructure:"pool_size"` // <=0 使用 pgxpool 默认
}

// RegistryConfig 源映射（ACP）解析配置
type RegistryConfig struct {
	Type   string              `mapstructure:"type"`   // local | external
	Static map[string]string   `mapstructure:"static"` // local："tenant/instance" -> source
	ACP    ACPConfig           `mapstructure:"acp"`
	Cache  RegistryCacheConfig `mapstructure:"cache"`
}

// ACPConfig 外部 auth 控制面（ACP）客户端配置
type ACPConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`      // 内部 bearer token，支持 ${ENV} 引用
	TimeoutMS int    `mapstructure:"timeout_ms"` // 绝对毫秒超时，<=0 默认 2000
}

// RegistryCacheConfig 解析结果缓存配置
type RegistryCacheConfig struct {
	Type        string `mapstructure:"type"`         // memory | redis
	Addr        string `mapstructure:"addr"`         // redis 地址
	DB          int    `mapstructure:"db"`
	Password    string `mapstructure:"password"`
	PositiveTTL string `mapstructure:"positive_ttl"` // found 结果缓存时长，如 "300s"
	NegativeTTL string `mapstructure:"negative_ttl"` // not_found 结果缓存时长，如 "30s"
}

// RestoreIndexConfig 权威水位索引读取配置
type RestoreIndexConfig struct {
	Type string `mapstructure:"type"` // memory | postgres
	DSN  string `mapstructure:"dsn"`  // 空则复用 snapshot.dsn（共享连接池）
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	replaceEnvVars(&config)
	return &config, nil
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// replaceEnvVars 替换配置中的 ${ENV} 形式密钥引用（JWT key 与 ACP token）
func replaceEnvVars(config *Config) {
	config.API.Middleware.JWTKey = expandEnv(config.API.Middleware.JWTKey)
	config.Registry.ACP.Token = expandEnv(config.Registry.ACP.Token)
	config.Snapshot.DSN = expandEnv(config.Snapshot.DSN)
	config.RestoreIndex.DSN = expandEnv(config.RestoreIndex.DSN)
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		if env := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")); env != "" {
			return env
		}
	}
	return v
}
