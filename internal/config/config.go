/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for the workerd daemon.
// config 包提供 workerd 守护进程的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables / 环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath      = "/etc/workerd/config.yaml"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultLogMaxSize      = 100 // MB
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAge       = 7 // days
	DefaultAPIListen       = "127.0.0.1:9615"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultJournalType     = "sqlite"
	DefaultJournalPath     = "./data/workerd.db"
	DefaultStartGrace      = 1 * time.Second
	DefaultStopTimeout     = 10 * time.Second
	DefaultKillTimeout     = 5 * time.Second
	DefaultRestartMinGap   = 1 * time.Second
	DefaultMonitorInterval = 5 * time.Second
	DefaultRestartMode     = "always"
	DefaultBaseBackoff     = 1 * time.Second
	DefaultMaxBackoff      = 1 * time.Minute
	DefaultResetAfter      = 60 * time.Second
)

// EnvConfigPath names the environment variable that points at the config file.
const EnvConfigPath = "WORKERD_CONFIG_PATH"

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = os.Getenv(EnvConfigPath)
	}
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, use defaults / 文件不存在，使用默认值
			return load(nil)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return load(data)
}

// LoadFromYAML loads configuration from YAML bytes
// LoadFromYAML 从 YAML 字节加载配置
func LoadFromYAML(yamlData []byte) (*Config, error) {
	return load(yamlData)
}

func load(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Set default values / 设置默认值
	setDefaults(v)

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("WORKERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if data != nil {
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	workers, err := decodeWorkers(data)
	if err != nil {
		return nil, err
	}
	cfg.Workers = workers

	return &cfg, nil
}

// decodeWorkers reads the workers roster straight from the YAML document.
// viper folds map keys to lower case, and environment variable names must keep their case.
func decodeWorkers(data []byte) ([]WorkerConfig, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var doc struct {
		Workers []WorkerConfig `yaml:"workers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workers: %w", err)
	}
	return doc.Workers, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// API defaults / 控制接口默认值
	v.SetDefault("api.listen", DefaultAPIListen)
	v.SetDefault("api.grpc_listen", "")
	v.SetDefault("api.request_timeout", DefaultRequestTimeout)

	// Journal defaults / 迁移日志默认值
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.type", DefaultJournalType)
	v.SetDefault("journal.sqlite_path", DefaultJournalPath)
	v.SetDefault("journal.log_level", "silent")
	v.SetDefault("journal.max_idle_conn", 2)
	v.SetDefault("journal.max_open_conn", 10)
	v.SetDefault("journal.conn_max_lifetime", time.Hour)
	v.SetDefault("journal.retention", time.Duration(0))

	// Supervisor defaults / 监督器默认值
	v.SetDefault("supervisor.start_grace", DefaultStartGrace)
	v.SetDefault("supervisor.stop_timeout", DefaultStopTimeout)
	v.SetDefault("supervisor.kill_timeout", DefaultKillTimeout)
	v.SetDefault("supervisor.restart_min_gap", DefaultRestartMinGap)
	v.SetDefault("supervisor.monitor_interval", DefaultMonitorInterval)
	v.SetDefault("supervisor.log_dir", "")
	v.SetDefault("supervisor.default_restart_policy.mode", DefaultRestartMode)
	v.SetDefault("supervisor.default_restart_policy.base_backoff", DefaultBaseBackoff)
	v.SetDefault("supervisor.default_restart_policy.max_backoff", DefaultMaxBackoff)
	v.SetDefault("supervisor.default_restart_policy.reset_after", DefaultResetAfter)
	v.SetDefault("supervisor.default_restart_policy.max_restarts", 0)
}

// Validate validates the daemon-level configuration. Worker entries are
// validated by the registry when it loads them.
// Validate 验证守护进程级配置，工作进程条目由 registry 在加载时验证。
func (c *Config) Validate() error {
	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be console or json)", c.Log.Format)
	}

	if c.API.Listen == "" {
		return errors.New("api.listen is required")
	}
	if c.API.RequestTimeout <= 0 {
		return errors.New("api.request_timeout must be positive")
	}

	if c.Journal.Enabled {
		switch c.Journal.Type {
		case "sqlite", "mysql", "postgres":
		default:
			return fmt.Errorf("invalid journal type: %s (must be sqlite, mysql, or postgres)", c.Journal.Type)
		}
	}

	s := c.Supervisor
	durations := map[string]time.Duration{
		"supervisor.start_grace":      s.StartGrace,
		"supervisor.stop_timeout":     s.StopTimeout,
		"supervisor.kill_timeout":     s.KillTimeout,
		"supervisor.monitor_interval": s.MonitorInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if s.RestartMinGap < 0 {
		return errors.New("supervisor.restart_min_gap must not be negative")
	}

	return nil
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{API.Listen: %s, Journal.Enabled: %v, Log.Level: %s, Workers: %d}",
		c.API.Listen,
		c.Journal.Enabled,
		c.Log.Level,
		len(c.Workers),
	)
}
