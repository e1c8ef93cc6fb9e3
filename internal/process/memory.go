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

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// ErrUnsupported indicates memory sampling is not available on this platform.
var ErrUnsupported = errors.New("memory sampling not supported on " + runtime.GOOS)

// ReadRSS returns the resident set size of pid in bytes.
// ReadRSS 返回进程的常驻内存大小（字节）。
func ReadRSS(pid int) (uint64, error) {
	switch runtime.GOOS {
	case "linux":
		return readRSSLinux(pid)
	case "darwin":
		return readRSSDarwin(pid)
	default:
		return 0, ErrUnsupported
	}
}

// readRSSLinux reads /proc/[pid]/statm, whose second field is RSS in pages.
// readRSSLinux 读取 /proc/[pid]/statm，第二个字段是以页为单位的 RSS。
func readRSSLinux(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm for pid %d", pid)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed statm for pid %d: %w", pid, err)
	}
	return pages * uint64(os.Getpagesize()), nil
}

// readRSSDarwin uses ps, which reports RSS in KB.
// readRSSDarwin 使用 ps 命令，RSS 以 KB 为单位。
func readRSSDarwin(pid int) (uint64, error) {
	out, err := exec.Command("ps", "-o", "rss=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return 0, err
	}
	kb, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed ps output for pid %d: %w", pid, err)
	}
	return kb * 1024, nil
}
