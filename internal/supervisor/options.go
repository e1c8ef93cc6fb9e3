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

	"github.com/seatunnel/workerd/internal/config"
)

// Options are the lifecycle timings shared by all workers.
// Options 是所有工作进程共享的生命周期时间参数。
type Options struct {
	// StartGrace is how long a new instance must stay alive to be Running.
	StartGrace time.Duration
	// StopTimeout is the SIGTERM window before SIGKILL, unless the worker sets its own.
	StopTimeout time.Duration
	// KillTimeout bounds the wait for exit after SIGKILL.
	KillTimeout time.Duration
	// RestartMinGap is the minimum stopped window of an explicit restart.
	RestartMinGap time.Duration
}

// DefaultOptions returns the built-in timings.
func DefaultOptions() Options {
	return Options{
		StartGrace:    config.DefaultStartGrace,
		StopTimeout:   config.DefaultStopTimeout,
		KillTimeout:   config.DefaultKillTimeout,
		RestartMinGap: config.DefaultRestartMinGap,
	}
}

// OptionsFromConfig maps the supervisor section of the configuration.
// OptionsFromConfig 映射配置中的 supervisor 部分。
func OptionsFromConfig(cfg config.SupervisorConfig) Options {
	return Options{
		StartGrace:    cfg.StartGrace,
		StopTimeout:   cfg.StopTimeout,
		KillTimeout:   cfg.KillTimeout,
		RestartMinGap: cfg.RestartMinGap,
	}.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.StartGrace <= 0 {
		o.StartGrace = d.StartGrace
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = d.StopTimeout
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = d.KillTimeout
	}
	if o.RestartMinGap < 0 {
		o.RestartMinGap = 0
	}
	return o
}
