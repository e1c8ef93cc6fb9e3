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

package supervisor

import (
	"time"

	"github.com/seatunnel/workerd/internal/process"
)

// State is the lifecycle state of a worker.
// State 是工作进程的生命周期状态。
type State string

const (
	StateStopped        State = "stopped"
	StateStarting       State = "starting"
	StateRunning        State = "running"
	StateStopping       State = "stopping"
	StateCrashed        State = "crashed"
	StateRestartBackoff State = "restart_backoff"
)

// States lists every lifecycle state.
var States = []State{
	StateStopped,
	StateStarting,
	StateRunning,
	StateStopping,
	StateCrashed,
	StateRestartBackoff,
}

// Valid reports whether s is a known lifecycle state.
// Valid 表示 s 是否为已知的生命周期状态。
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Transition is one lifecycle state change of a worker.
// Transition 是工作进程的一次生命周期状态变更。
type Transition struct {
	Worker       string
	From         State
	To           State
	Reason       string
	At           time.Time
	InstanceID   string
	PID          int
	RestartCount int
	// Exit is set on transitions caused by a process exit.
	Exit *process.ExitStatus
	// Uptime is how long the exited instance ran, set together with Exit.
	Uptime time.Duration
	// Backoff is the scheduled delay on transitions into restart_backoff.
	Backoff time.Duration
	// GaveUp marks the stop that follows an exhausted restart ceiling.
	GaveUp bool
}

// Status is a point-in-time snapshot of a worker. It is a copy; mutating it
// has no effect on the supervisor.
// Status 是工作进程的时间点快照，是一份副本。
type Status struct {
	Name         string    `json:"name" yaml:"name"`
	State        State     `json:"state" yaml:"state"`
	Reason       string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	InstanceID   string    `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	PID          int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	Port         int       `json:"port,omitempty" yaml:"port,omitempty"`
	StartedAt    time.Time `json:"started_at,omitzero" yaml:"started_at,omitempty"`
	UptimeSecond float64   `json:"uptime_seconds,omitempty" yaml:"uptime_seconds,omitempty"`
	RestartCount int       `json:"restart_count" yaml:"restart_count"`

	ConsecutiveFailures int       `json:"consecutive_failures" yaml:"consecutive_failures"`
	NextRestartAt       time.Time `json:"next_restart_at,omitzero" yaml:"next_restart_at,omitempty"`

	MemoryBytes      uint64 `json:"memory_bytes" yaml:"memory_bytes"`
	MemoryLimitBytes uint64 `json:"memory_limit_bytes,omitempty" yaml:"memory_limit_bytes,omitempty"`

	LastExit  *process.ExitStatus `json:"last_exit,omitempty" yaml:"last_exit,omitempty"`
	LastError string              `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	UpdatedAt time.Time           `json:"updated_at" yaml:"updated_at"`
}

// Result is the outcome of a control operation on one worker.
// Result 是对单个工作进程执行控制操作的结果。
type Result struct {
	Name   string `json:"name" yaml:"name"`
	Status Status `json:"status" yaml:"status"`
	// AlreadyRunning marks a start that found the worker running; it is a
	// no-op signal, not an error.
	AlreadyRunning bool   `json:"already_running,omitempty" yaml:"already_running,omitempty"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
	Err            error  `json:"-" yaml:"-"`
}
