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

package config

import "time"

// Config represents the workerd daemon configuration
// Config 表示 workerd 守护进程配置
type Config struct {
	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log"`

	// Control API configuration / 控制接口配置
	API APIConfig `mapstructure:"api"`

	// Transition journal configuration / 状态迁移日志配置
	Journal JournalConfig `mapstructure:"journal"`

	// Supervisor timing configuration / 监督器时间配置
	Supervisor SupervisorConfig `mapstructure:"supervisor"`

	// Workers is the roster of managed worker processes.
	// Workers 是托管工作进程的清单。
	// Decoded with yaml.v3 rather than viper, see decodeWorkers.
	Workers []WorkerConfig `mapstructure:"-"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level"`

	// Format is the encoder: console or json
	// Format 是编码格式：console 或 json
	Format string `mapstructure:"format"`

	// File is the log file path, empty means stdout only
	// File 是日志文件路径，为空表示仅输出到标准输出
	File string `mapstructure:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age"`
}

// APIConfig contains control surface settings
// APIConfig 包含控制接口设置
type APIConfig struct {
	// Listen is the HTTP control API address
	// Listen 是 HTTP 控制接口地址
	Listen string `mapstructure:"listen"`

	// GRPCListen is the gRPC health service address, empty disables it
	// GRPCListen 是 gRPC 健康检查服务地址，为空表示禁用
	GRPCListen string `mapstructure:"grpc_listen"`

	// RequestTimeout bounds a single control request
	// RequestTimeout 限制单个控制请求的时长
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// JournalConfig contains the transition journal database settings
// JournalConfig 包含状态迁移日志数据库设置
type JournalConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Type       string `mapstructure:"type"`        // sqlite, mysql, postgres
	SQLitePath string `mapstructure:"sqlite_path"` // SQLite 文件路径
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	Database   string `mapstructure:"database"`
	LogLevel   string `mapstructure:"log_level"`

	// Connection pool, zero leaves the driver default
	// 连接池参数，为零时使用驱动默认值
	MaxIdleConn     int           `mapstructure:"max_idle_conn"`
	MaxOpenConn     int           `mapstructure:"max_open_conn"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`

	// Retention is how long transitions are kept, zero keeps everything
	// Retention 是迁移记录的保留时长，为零表示永久保留
	Retention time.Duration `mapstructure:"retention"`
}

// SupervisorConfig contains lifecycle timing defaults
// SupervisorConfig 包含生命周期时间默认值
type SupervisorConfig struct {
	// StartGrace is how long a new process must stay alive to count as running
	// StartGrace 是新进程需存活多久才视为运行中
	StartGrace time.Duration `mapstructure:"start_grace"`

	// StopTimeout is the graceful termination window before SIGKILL
	// StopTimeout 是发送 SIGKILL 前的优雅终止窗口
	StopTimeout time.Duration `mapstructure:"stop_timeout"`

	// KillTimeout is how long to wait for exit after SIGKILL
	// KillTimeout 是发送 SIGKILL 后等待退出的时长
	KillTimeout time.Duration `mapstructure:"kill_timeout"`

	// RestartMinGap is the minimum stopped window during an explicit restart
	// RestartMinGap 是显式重启期间的最短停止窗口
	RestartMinGap time.Duration `mapstructure:"restart_min_gap"`

	// MonitorInterval is the memory sampling interval
	// MonitorInterval 是内存采样间隔
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`

	// LogDir is where worker stdout/stderr files go when a worker sets none
	// LogDir 是工作进程未指定输出文件时的日志目录
	LogDir string `mapstructure:"log_dir"`

	// DefaultRestartPolicy applies to workers without their own restart_policy
	// DefaultRestartPolicy 适用于未配置 restart_policy 的工作进程
	DefaultRestartPolicy RestartPolicyConfig `mapstructure:"default_restart_policy"`
}

// RestartPolicyConfig is the raw restart policy of a worker
// RestartPolicyConfig 是工作进程的原始重启策略
type RestartPolicyConfig struct {
	Mode        string        `mapstructure:"mode" yaml:"mode"` // always, on-failure, never
	BaseBackoff time.Duration `mapstructure:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	ResetAfter  time.Duration `mapstructure:"reset_after" yaml:"reset_after"`
	MaxRestarts int           `mapstructure:"max_restarts" yaml:"max_restarts"`
}

// RestartPolicyOverride is a worker's own restart_policy. Only the fields
// present in the file are set, so an explicit zero such as max_restarts: 0
// overrides a non-zero default.
// RestartPolicyOverride 是工作进程自己的重启策略，只有文件中出现的字段才会被设置，显式的零值也会覆盖默认值。
type RestartPolicyOverride struct {
	Mode        string         `yaml:"mode"`
	BaseBackoff *time.Duration `yaml:"base_backoff"`
	MaxBackoff  *time.Duration `yaml:"max_backoff"`
	ResetAfter  *time.Duration `yaml:"reset_after"`
	MaxRestarts *int           `yaml:"max_restarts"`
}

// WorkerConfig is one entry of the worker roster as written in the config file
// WorkerConfig 是配置文件中工作进程清单的一项
type WorkerConfig struct {
	Name string `yaml:"name"`

	// Command is a shell-like command line, split with shlex.
	// Either Command or Interpreter/Script must be set.
	Command     string   `yaml:"command"`
	Interpreter string   `yaml:"interpreter"`
	Script      string   `yaml:"script"`
	Args        []string `yaml:"args"`

	WorkingDirectory string            `yaml:"working_directory"`
	Environment      map[string]string `yaml:"environment"`
	EnvFile          string            `yaml:"env_file"`
	Port             int               `yaml:"port"`

	// MemoryLimit accepts human sizes such as "1G" or "512MB".
	MemoryLimit string `yaml:"memory_limit"`

	// AutoRestart is the shorthand form: true means always, false means never.
	AutoRestart   *bool                `yaml:"autorestart"`
	RestartPolicy *RestartPolicyOverride `yaml:"restart_policy"`
	StopTimeout   time.Duration          `yaml:"stop_timeout"`

	OutFile   string `yaml:"out_file"`
	ErrorFile string `yaml:"error_file"`
	AutoStart *bool  `yaml:"autostart"`
}
