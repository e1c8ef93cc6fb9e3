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

package registry

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RestartMode selects when a crashed worker is restarted.
// RestartMode 决定崩溃的工作进程何时重启。
type RestartMode string

const (
	// RestartAlways restarts on every exit.
	// RestartAlways 每次退出都重启。
	RestartAlways RestartMode = "always"

	// RestartOnFailure restarts only on non-zero or signal exits.
	// RestartOnFailure 仅在非零退出码或被信号终止时重启。
	RestartOnFailure RestartMode = "on-failure"

	// RestartNever never restarts.
	// RestartNever 从不重启。
	RestartNever RestartMode = "never"
)

// ParseRestartMode validates a restart mode string.
func ParseRestartMode(s string) (RestartMode, error) {
	switch m := RestartMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RestartAlways, RestartOnFailure, RestartNever:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown restart mode %q (must be always, on-failure, or never)", ErrInvalidSpec, s)
	}
}

// RestartPolicy is the restart mode plus the backoff parameters.
// RestartPolicy 是重启模式及退避参数。
type RestartPolicy struct {
	Mode RestartMode `json:"mode" yaml:"mode"`

	// BaseBackoff is the delay after the first consecutive failure.
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`

	// MaxBackoff caps the exponential delay.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// ResetAfter is how long a worker must stay running before its
	// consecutive failure count goes back to zero.
	ResetAfter time.Duration `json:"reset_after" yaml:"reset_after"`

	// MaxRestarts is the consecutive failure ceiling, zero means unlimited.
	MaxRestarts int `json:"max_restarts" yaml:"max_restarts"`
}

// ProcessSpec is the immutable definition of a worker. It is created when the
// registry loads and never mutated afterwards; holders must treat it as read-only.
// ProcessSpec 是工作进程的不可变定义，在注册表加载时创建，之后不再修改。
type ProcessSpec struct {
	Name             string            `json:"name" yaml:"name"`
	Command          []string          `json:"command" yaml:"command"`
	WorkingDirectory string            `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	Environment      map[string]string `json:"environment,omitempty" yaml:"environment,omitempty"`
	Port             int               `json:"port,omitempty" yaml:"port,omitempty"`
	MemoryLimitBytes uint64            `json:"memory_limit_bytes,omitempty" yaml:"memory_limit_bytes,omitempty"`
	RestartPolicy    RestartPolicy     `json:"restart_policy" yaml:"restart_policy"`

	// StopTimeout overrides the supervisor-wide graceful stop window when set.
	StopTimeout time.Duration `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty"`

	// OutFile and ErrorFile receive the worker's stdout and stderr, empty discards.
	OutFile   string `json:"out_file,omitempty" yaml:"out_file,omitempty"`
	ErrorFile string `json:"error_file,omitempty" yaml:"error_file,omitempty"`

	// AutoStart marks workers booted when the daemon starts.
	AutoStart bool `json:"autostart" yaml:"autostart"`
}

// Env returns the environment for the worker: the supervisor's own
// environment with the worker's overrides applied in key order.
// Env 返回工作进程的环境变量：继承监督器环境，并按键顺序应用覆盖项。
func (s *ProcessSpec) Env() []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(s.Environment))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := s.Environment[key]; overridden {
			continue
		}
		env = append(env, kv)
	}

	keys := make([]string, 0, len(s.Environment))
	for k := range s.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Environment[k])
	}
	return env
}

// String renders the command line for logs.
func (s *ProcessSpec) String() string {
	parts := make([]string, len(s.Command))
	for i, arg := range s.Command {
		if strings.ContainsAny(arg, " \t\"'") {
			arg = strconv.Quote(arg)
		}
		parts[i] = arg
	}
	return s.Name + ": " + strings.Join(parts, " ")
}
