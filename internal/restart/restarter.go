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

// Package restart decides whether and when a crashed worker is restarted.
// restart 包决定崩溃的工作进程是否以及何时重启。
//
// This package provides:
// 此包提供：
// - Exponential backoff capped at the policy maximum / 带上限的指数退避
// - Consecutive failure counting with reset after a stable run / 连续失败计数及稳定运行后重置
// - Restart ceiling enforcement / 重启次数上限
package restart

import (
	"fmt"
	"time"

	"github.com/seatunnel/workerd/internal/registry"
)

// Backoff returns min(base * 2^failures, max) for the policy.
// Backoff 返回 min(base * 2^failures, max)。
func Backoff(policy registry.RestartPolicy, failures int) time.Duration {
	base, max := policy.BaseBackoff, policy.MaxBackoff
	if base <= 0 {
		return 0
	}
	if failures < 0 {
		failures = 0
	}
	// base << failures overflows well before 62 shifts for any realistic base.
	if failures >= 62 || base > max>>uint(failures) {
		return max
	}
	d := base << uint(failures)
	if d > max {
		return max
	}
	return d
}

// Exit describes how a worker instance ended.
// Exit 描述工作进程实例的结束方式。
type Exit struct {
	// Clean is true for a zero exit code without a signal.
	Clean bool
	// MemoryExceeded marks a kill issued by the resource monitor.
	MemoryExceeded bool
}

// Decision is the outcome of a crash evaluation.
// Decision 是崩溃评估的结果。
type Decision struct {
	Restart bool
	Delay   time.Duration
	// Failures is the consecutive failure count after this exit.
	Failures int
	// Reason explains the decision for the transition log.
	Reason string
	// Exhausted is set when the restart ceiling stopped the worker.
	Exhausted bool
}

// Tracker holds the restart bookkeeping of one worker. It is owned by that
// worker's control loop and is not safe for concurrent use.
// Tracker 保存单个工作进程的重启记录，由该进程的控制循环独占，非并发安全。
type Tracker struct {
	failures     int
	runningSince time.Time
}

// MarkRunning records the moment the current instance was confirmed running.
// MarkRunning 记录当前实例确认运行的时刻。
func (t *Tracker) MarkRunning(now time.Time) {
	t.runningSince = now
}

// Reset clears the failure count, used for manual starts.
// Reset 清零失败计数，用于手动启动。
func (t *Tracker) Reset() {
	t.failures = 0
	t.runningSince = time.Time{}
}

// Failures returns the current consecutive failure count.
func (t *Tracker) Failures() int {
	return t.failures
}

// ResetAt returns when the failure count is cleared if the current instance
// keeps running, or the zero time when nothing is pending.
// ResetAt 返回当前实例持续运行时失败计数被清零的时刻，无待清零时返回零值。
func (t *Tracker) ResetAt(policy registry.RestartPolicy) time.Time {
	if t.failures == 0 || t.runningSince.IsZero() || policy.ResetAfter <= 0 {
		return time.Time{}
	}
	return t.runningSince.Add(policy.ResetAfter)
}

// OnExit evaluates an unexpected exit against the policy.
// OnExit 根据策略评估一次意外退出。
func (t *Tracker) OnExit(policy registry.RestartPolicy, exit Exit, now time.Time) Decision {
	if !t.runningSince.IsZero() && policy.ResetAfter > 0 && now.Sub(t.runningSince) >= policy.ResetAfter {
		t.failures = 0
	}
	t.runningSince = time.Time{}

	if exit.MemoryExceeded {
		if policy.Mode == registry.RestartNever {
			return Decision{Failures: t.failures, Reason: "memory limit exceeded, restart policy is never"}
		}
		return Decision{
			Restart:  true,
			Delay:    policy.BaseBackoff,
			Failures: t.failures,
			Reason:   "memory limit exceeded",
		}
	}

	switch {
	case policy.Mode == registry.RestartNever:
		return Decision{Failures: t.failures, Reason: "restart policy is never"}
	case policy.Mode == registry.RestartOnFailure && exit.Clean:
		return Decision{Failures: t.failures, Reason: "exited cleanly"}
	case policy.MaxRestarts > 0 && t.failures >= policy.MaxRestarts:
		return Decision{Failures: t.failures, Exhausted: true, Reason: fmt.Sprintf("restart ceiling of %d reached", policy.MaxRestarts)}
	}

	delay := Backoff(policy, t.failures)
	t.failures++
	return Decision{
		Restart:  true,
		Delay:    delay,
		Failures: t.failures,
		Reason:   fmt.Sprintf("consecutive failure %d, backoff %s", t.failures, delay),
	}
}
