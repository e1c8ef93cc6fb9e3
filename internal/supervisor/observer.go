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
	"go.uber.org/zap"
)

// Observer receives every transition. It is called from the worker's control
// loop, so it must return quickly and must not call back into the supervisor.
// Observer 接收每一次状态迁移，在工作进程的控制循环中调用，须快速返回且不得回调监督器。
type Observer interface {
	OnTransition(t Transition)
}

// logObserver writes one log line per transition.
type logObserver struct {
	logger *zap.Logger
}

func (o logObserver) OnTransition(t Transition) {
	fields := []zap.Field{
		zap.String("worker", t.Worker),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("reason", t.Reason),
	}
	if t.PID != 0 {
		fields = append(fields, zap.Int("pid", t.PID))
	}
	if t.Exit != nil {
		fields = append(fields, zap.Int("exit_code", t.Exit.Code), zap.Duration("uptime", t.Uptime))
		if t.Exit.Signal != "" {
			fields = append(fields, zap.String("signal", t.Exit.Signal))
		}
	}

	switch {
	case t.GaveUp:
		o.logger.Error("transition", fields...)
	case t.To == StateCrashed:
		o.logger.Warn("transition", fields...)
	default:
		o.logger.Info("transition", fields...)
	}
}
