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

// Package process wraps one live operating-system process of a worker.
// process 包封装工作进程的一个存活操作系统进程。
//
// A Handle is created by Spawn for every instance and never reused: a restart
// spawns a new Handle with a new ID, PID and start time.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/seatunnel/workerd/internal/registry"
)

// ErrSpawn indicates the operating system failed to create the process.
// ErrSpawn 表示操作系统创建进程失败。
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports a failed process creation. It matches ErrSpawn.
// SpawnError 表示进程创建失败，可通过 errors.Is 匹配 ErrSpawn。
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// ExitStatus describes how an instance ended.
// ExitStatus 描述实例的结束方式。
type ExitStatus struct {
	// Code is the exit code, -1 when terminated by a signal.
	Code int `json:"code" yaml:"code"`
	// Signal is the terminating signal name, empty for a normal exit.
	Signal string `json:"signal,omitempty" yaml:"signal,omitempty"`
	// Err is set when waiting on the process failed.
	Err      error     `json:"-" yaml:"-"`
	ExitedAt time.Time `json:"exited_at" yaml:"exited_at"`
}

// Clean reports a zero exit code without a signal.
func (e ExitStatus) Clean() bool {
	return e.Err == nil && e.Signal == "" && e.Code == 0
}

func (e ExitStatus) String() string {
	switch {
	case e.Err != nil:
		return "wait failed: " + e.Err.Error()
	case e.Signal != "":
		return "killed by " + e.Signal
	default:
		return fmt.Sprintf("exit code %d", e.Code)
	}
}

// Handle is one running instance of a worker.
// Handle 是工作进程的一个运行实例。
type Handle struct {
	// ID identifies this instance; exits are matched against it.
	ID        string
	PID       int
	StartedAt time.Time

	cmd     *exec.Cmd
	memory  atomic.Uint64
	done    chan struct{}
	exit    ExitStatus
	closers []io.Closer
}

// Spawn starts a new instance of spec. The process runs in its own process
// group so signals reach its children and the supervisor's terminal signals
// do not reach it.
// Spawn 启动 spec 的新实例，进程位于独立进程组中。
func Spawn(spec *registry.ProcessSpec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, &SpawnError{Name: spec.Name, Err: errors.New("empty command")}
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = spec.Env()
	setProcGroupAttr(cmd)

	h := &Handle{
		ID:   uuid.NewString(),
		cmd:  cmd,
		done: make(chan struct{}),
	}

	if spec.OutFile != "" {
		f, err := openLog(spec.OutFile)
		if err != nil {
			return nil, &SpawnError{Name: spec.Name, Command: spec.String(), Err: err}
		}
		cmd.Stdout = f
		h.closers = append(h.closers, f)
	}
	if spec.ErrorFile != "" {
		if spec.ErrorFile == spec.OutFile {
			cmd.Stderr = cmd.Stdout
		} else {
			f, err := openLog(spec.ErrorFile)
			if err != nil {
				h.closeLogs()
				return nil, &SpawnError{Name: spec.Name, Command: spec.String(), Err: err}
			}
			cmd.Stderr = f
			h.closers = append(h.closers, f)
		}
	}

	if err := cmd.Start(); err != nil {
		h.closeLogs()
		return nil, &SpawnError{Name: spec.Name, Command: spec.String(), Err: err}
	}

	h.PID = cmd.Process.Pid
	h.StartedAt = time.Now()
	go h.wait()
	return h, nil
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	status := ExitStatus{ExitedAt: time.Now()}

	if state := h.cmd.ProcessState; state != nil {
		status.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}

	h.exit = status
	h.closeLogs()
	close(h.done)
}

func (h *Handle) closeLogs() {
	for _, c := range h.closers {
		_ = c.Close()
	}
	h.closers = nil
}

// Done is closed once the process has exited and been reaped.
// Done 在进程退出并被回收后关闭。
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exit returns the exit status. Only valid after Done is closed.
// Exit 返回退出状态，仅在 Done 关闭后有效。
func (h *Handle) Exit() ExitStatus {
	<-h.done
	return h.exit
}

// Alive reports whether the process has not exited yet.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Memory returns the last sampled resident memory in bytes.
func (h *Handle) Memory() uint64 {
	return h.memory.Load()
}

// SetMemory records a resident memory sample.
func (h *Handle) SetMemory(bytes uint64) {
	h.memory.Store(bytes)
}

// Uptime returns how long the instance has been alive, or how long it ran
// once it has exited.
func (h *Handle) Uptime() time.Duration {
	if !h.Alive() {
		return h.exit.ExitedAt.Sub(h.StartedAt)
	}
	return time.Since(h.StartedAt)
}

// Terminate asks the process group to exit gracefully.
// Terminate 请求进程组优雅退出。
func (h *Handle) Terminate() error {
	return h.signal(sigTerm)
}

// Kill forcibly terminates the process group.
// Kill 强制终止进程组。
func (h *Handle) Kill() error {
	return h.signal(sigKill)
}

func (h *Handle) signal(sig syscall.Signal) error {
	if !h.Alive() {
		return nil
	}
	return signalGroup(h.PID, sig)
}
