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

package api

import (
	"errors"
	"net/http"

	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
)

// Error kinds carried in the "kind" field of error responses.
// 错误响应 "kind" 字段中的错误类型。
const (
	KindConfig         = "config"
	KindNotFound       = "not_found"
	KindTimeout        = "timeout"
	KindStartFailed    = "start_failed"
	KindCanceled       = "canceled"
	KindShutdown       = "shutdown"
	KindNotStarted     = "not_started"
	KindInvalidRequest = "invalid_request"
	KindInternal       = "internal"
)

var (
	// ErrInvalidRequest indicates a malformed request parameter.
	// ErrInvalidRequest 表示请求参数格式错误。
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnreachable indicates the daemon could not be contacted.
	// ErrUnreachable 表示无法连接守护进程。
	ErrUnreachable = errors.New("workerd daemon unreachable")

	// ErrInternal is the fallback for unclassified daemon errors.
	// ErrInternal 是未分类守护进程错误的兜底。
	ErrInternal = errors.New("internal error")
)

// errorKinds is checked in order, so for joined errors the first matching
// kind wins.
var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{supervisor.ErrNotFound, KindNotFound, http.StatusNotFound},
	{registry.ErrInvalidSpec, KindConfig, http.StatusBadRequest},
	{ErrInvalidRequest, KindInvalidRequest, http.StatusBadRequest},
	{supervisor.ErrTimeout, KindTimeout, http.StatusGatewayTimeout},
	{supervisor.ErrStartFailed, KindStartFailed, http.StatusBadGateway},
	{supervisor.ErrCanceled, KindCanceled, http.StatusConflict},
	{supervisor.ErrShutdown, KindShutdown, http.StatusServiceUnavailable},
	{supervisor.ErrNotStarted, KindNotStarted, http.StatusServiceUnavailable},
}

// Classify maps an error to its kind and HTTP status.
// Classify 将错误映射为错误类型和 HTTP 状态码。
func Classify(err error) (kind string, status int) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind, k.status
		}
	}
	return KindInternal, http.StatusInternalServerError
}

// sentinelFor maps a kind back to the error it was classified from.
func sentinelFor(kind string) error {
	for _, k := range errorKinds {
		if k.kind == kind {
			return k.err
		}
	}
	return ErrInternal
}

// ErrorResponse is the body of every failed request.
// ErrorResponse 是所有失败请求的响应体。
type ErrorResponse struct {
	Error   string              `json:"error"`
	Kind    string              `json:"kind"`
	Results []supervisor.Result `json:"results,omitempty"`
}

// Error is a daemon error decoded by the Client. It unwraps to the sentinel
// of its kind so callers can keep using errors.Is.
// Error 是客户端解码出的守护进程错误，可通过 errors.Is 匹配对应的哨兵错误。
type Error struct {
	Kind       string
	Message    string
	StatusCode int
	Results    []supervisor.Result
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return sentinelFor(e.Kind)
}
