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

// Package journal persists worker state transitions.
// Package journal 持久化工作进程的状态迁移记录。
package journal

import (
	"time"

	"github.com/seatunnel/workerd/internal/supervisor"
)

// TransitionEvent is one recorded lifecycle transition.
// TransitionEvent 是一条已记录的生命周期迁移。
type TransitionEvent struct {
	ID           uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Worker       string    `json:"worker" gorm:"size:100;index"`      // 工作进程名称 / Worker name
	FromState    string    `json:"from_state" gorm:"size:30"`         // 原状态 / Previous state
	ToState      string    `json:"to_state" gorm:"size:30;index"`     // 新状态 / New state
	Reason       string    `json:"reason" gorm:"type:text"`           // 迁移原因 / Transition reason
	InstanceID   string    `json:"instance_id,omitempty" gorm:"size:64"`
	PID          int       `json:"pid,omitempty"`
	RestartCount int       `json:"restart_count"`
	ExitCode     *int      `json:"exit_code,omitempty"`               // 退出码 / Exit code
	Signal       string    `json:"signal,omitempty" gorm:"size:30"`   // 终止信号 / Terminating signal
	BackoffMs    int64     `json:"backoff_ms,omitempty"`              // 退避时长（毫秒）/ Backoff (ms)
	CreatedAt    time.Time `json:"created_at" gorm:"index"`           // 迁移时间 / Transition time
}

// TableName specifies the table name for TransitionEvent.
// TableName 指定 TransitionEvent 的表名。
func (TransitionEvent) TableName() string {
	return "worker_transitions"
}

// EventFilter represents filter options for listing transitions.
// EventFilter 表示迁移记录列表的过滤选项。
type EventFilter struct {
	Worker    string     `json:"worker"`
	ToState   string     `json:"to_state"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
}

// FromTransition converts a supervisor transition into a journal row.
// FromTransition 将监督器迁移转换为日志记录。
func FromTransition(t supervisor.Transition) *TransitionEvent {
	ev := &TransitionEvent{
		Worker:       t.Worker,
		FromState:    string(t.From),
		ToState:      string(t.To),
		Reason:       t.Reason,
		InstanceID:   t.InstanceID,
		PID:          t.PID,
		RestartCount: t.RestartCount,
		BackoffMs:    t.Backoff.Milliseconds(),
		CreatedAt:    t.At,
	}
	if t.Exit != nil {
		code := t.Exit.Code
		ev.ExitCode = &code
		ev.Signal = t.Exit.Signal
	}
	return ev
}
