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
	"errors"

	"github.com/seatunnel/workerd/internal/registry"
)

// Error definitions for supervisor package.
// 监督器包的错误定义。
var (
	// ErrNotFound indicates a control operation named an unknown worker.
	// ErrNotFound 表示控制操作引用了未知的工作进程。
	ErrNotFound = registry.ErrNotFound

	// ErrTimeout indicates an operation did not complete within its bound.
	// ErrTimeout 表示操作未在限定时间内完成。
	ErrTimeout = errors.New("operation timed out")

	// ErrStartFailed indicates the instance crashed before it was confirmed running.
	// ErrStartFailed 表示实例在确认运行前崩溃。
	ErrStartFailed = errors.New("worker failed to start")

	// ErrCanceled indicates a later request superseded a pending one.
	// ErrCanceled 表示挂起的请求被后续请求取代。
	ErrCanceled = errors.New("operation canceled by a later request")

	// ErrResourceLimitExceeded marks a forced restart for memory over limit.
	// ErrResourceLimitExceeded 表示因内存超限而强制重启。
	ErrResourceLimitExceeded = errors.New("memory limit exceeded")

	// ErrNotStarted indicates the supervisor loops are not running.
	// ErrNotStarted 表示监督器循环尚未运行。
	ErrNotStarted = errors.New("supervisor not started")

	// ErrShutdown indicates the supervisor is shutting down.
	// ErrShutdown 表示监督器正在关闭。
	ErrShutdown = errors.New("supervisor is shutting down")
)
