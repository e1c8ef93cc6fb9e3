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
	"errors"
	"fmt"
)

// Error definitions for registry package.
// 注册表包的错误定义。
var (
	// ErrNotFound indicates no worker is registered under the name.
	// ErrNotFound 表示该名称下没有注册的工作进程。
	ErrNotFound = errors.New("worker not found")

	// ErrDuplicateName indicates two specs share a name.
	// ErrDuplicateName 表示两个定义使用了相同的名称。
	ErrDuplicateName = errors.New("duplicate worker name")

	// ErrDuplicatePort indicates two specs share a port.
	// ErrDuplicatePort 表示两个定义使用了相同的端口。
	ErrDuplicatePort = errors.New("duplicate worker port")

	// ErrInvalidSpec indicates a spec field is missing or malformed.
	// ErrInvalidSpec 表示定义字段缺失或格式错误。
	ErrInvalidSpec = errors.New("invalid worker spec")
)

// ConfigError reports a roster entry that cannot be loaded. It is fatal at
// startup: no worker is started when loading fails.
// ConfigError 表示无法加载的清单条目，启动时为致命错误：加载失败时不会启动任何工作进程。
type ConfigError struct {
	// Index is the position of the entry in the roster.
	Index int
	// Name is the worker name, possibly empty.
	Name string
	// Field is the offending field.
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("#%d", e.Index)
	}
	return fmt.Sprintf("config error: worker %s: %s: %v", name, e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes every ConfigError match ErrInvalidSpec.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidSpec
}

func configErr(index int, name, field string, err error) *ConfigError {
	return &ConfigError{Index: index, Name: name, Field: field, Err: err}
}
