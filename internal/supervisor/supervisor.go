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

// Package supervisor runs the lifecycle state machine of every worker.
// supervisor 包运行每个工作进程的生命周期状态机。
//
// Each worker has its own control loop goroutine which owns its handle and
// serializes all of its transitions, so a slow or stuck worker never blocks
// another one. Callers only ever see Status snapshots.
//
// State machine / 状态机:
//
//	stopped -> starting -> running -> stopping -> stopped
//	starting|running -> crashed -> restart_backoff -> starting
//	crashed -> stopped (policy never, or restart ceiling reached)
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seatunnel/workerd/internal/monitor"
	"github.com/seatunnel/workerd/internal/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Supervisor owns one control loop per registered worker.
// Supervisor 为每个注册的工作进程持有一个控制循环。
type Supervisor struct {
	opts      Options
	logger    *zap.Logger
	observers []Observer
	workers   map[string]*worker
	names     []string
	autostart []string
	quit      chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a supervisor for every spec in the registry. No process is
// started until Start and then Boot or an explicit start request.
// New 为注册表中的每个定义创建监督器，调用 Start 后通过 Boot 或显式请求才会启动进程。
func New(reg *registry.Registry, opts Options, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("supervisor")

	s := &Supervisor{
		opts:      opts.withDefaults(),
		logger:    logger,
		observers: []Observer{logObserver{logger: logger}},
		workers:   make(map[string]*worker, reg.Len()),
		names:     reg.Names(),
		quit:      make(chan struct{}),
	}
	for _, spec := range reg.Specs() {
		s.workers[spec.Name] = newWorker(spec, s.opts, logger.With(zap.String("worker", spec.Name)), s.quit)
		if spec.AutoStart {
			s.autostart = append(s.autostart, spec.Name)
		}
	}
	return s
}

// AddObserver registers a transition observer. Observers added after Start
// are ignored.
// AddObserver 注册状态迁移观察者，Start 之后添加的观察者会被忽略。
func (s *Supervisor) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.logger.Warn("observer added after start, ignoring")
		return
	}
	s.observers = append(s.observers, o)
}

// Start launches the control loops.
// Start 启动所有控制循环。
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for _, name := range s.names {
		w := s.workers[name]
		w.observers = append([]Observer(nil), s.observers...)
		go w.run()
	}
	s.logger.Info("supervisor started", zap.Int("workers", len(s.names)))
}

// Boot starts every autostart worker concurrently. A worker that fails to
// start is reported but does not affect the others.
// Boot 并发启动所有 autostart 工作进程，单个失败不影响其他进程。
func (s *Supervisor) Boot(ctx context.Context) ([]Result, error) {
	return s.fanOut(ctx, s.autostart, opStart)
}

// StartProcess starts a worker. Starting a running worker returns a Result
// with AlreadyRunning set and no error.
// StartProcess 启动工作进程，对运行中的进程返回 AlreadyRunning 且不报错。
func (s *Supervisor) StartProcess(ctx context.Context, name string) (Result, error) {
	return s.call(ctx, name, opStart)
}

// StopProcess stops a worker, escalating to SIGKILL after the stop timeout.
// StopProcess 停止工作进程，超时后升级为 SIGKILL。
func (s *Supervisor) StopProcess(ctx context.Context, name string) (Result, error) {
	return s.call(ctx, name, opStop)
}

// RestartProcess stops then starts a worker, keeping it stopped for at least
// the configured minimum gap.
// RestartProcess 先停止再启动工作进程，停止窗口不短于配置的最小间隔。
func (s *Supervisor) RestartProcess(ctx context.Context, name string) (Result, error) {
	return s.call(ctx, name, opRestart)
}

// StartAll starts every worker.
func (s *Supervisor) StartAll(ctx context.Context) ([]Result, error) {
	return s.fanOut(ctx, s.names, opStart)
}

// StopAll stops every worker.
func (s *Supervisor) StopAll(ctx context.Context) ([]Result, error) {
	return s.fanOut(ctx, s.names, opStop)
}

// RestartAll restarts every worker.
func (s *Supervisor) RestartAll(ctx context.Context) ([]Result, error) {
	return s.fanOut(ctx, s.names, opRestart)
}

// GetStatus returns the snapshot of one worker.
// GetStatus 返回单个工作进程的快照。
func (s *Supervisor) GetStatus(name string) (Status, error) {
	w, ok := s.workers[name]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return w.status(), nil
}

// ListProcesses returns snapshots of all workers in roster order.
// ListProcesses 按清单顺序返回所有工作进程的快照。
func (s *Supervisor) ListProcesses() []Status {
	out := make([]Status, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.workers[name].status())
	}
	return out
}

// Names returns worker names in roster order.
func (s *Supervisor) Names() []string {
	return append([]string(nil), s.names...)
}

// MonitorTargets lists the running instances for the resource monitor.
// MonitorTargets 为资源监控器列出运行中的实例。
func (s *Supervisor) MonitorTargets() []monitor.Target {
	var targets []monitor.Target
	for _, name := range s.names {
		st := s.workers[name].status()
		if st.State == StateRunning && st.PID > 0 {
			targets = append(targets, monitor.Target{Name: name, InstanceID: st.InstanceID, PID: st.PID})
		}
	}
	return targets
}

// ReportMemory delivers a memory sample to the worker's control loop. Samples
// for an instance that is no longer current are dropped there.
// ReportMemory 将内存样本交给工作进程的控制循环，过期实例的样本会被丢弃。
func (s *Supervisor) ReportMemory(name, instanceID string, bytes uint64) {
	w, ok := s.workers[name]
	if !ok || s.ready() != nil {
		return
	}
	w.reportMemory(instanceID, bytes)
}

// Shutdown stops every worker and then ends the control loops.
// Shutdown 停止所有工作进程后结束控制循环。
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.StopAll(ctx)

	s.mu.Lock()
	s.stopped = true
	close(s.quit)
	s.mu.Unlock()

	for _, name := range s.names {
		<-s.workers[name].done
	}
	s.logger.Info("supervisor stopped")
	return err
}

func (s *Supervisor) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return ErrNotStarted
	case s.stopped:
		return ErrShutdown
	}
	return nil
}

func (s *Supervisor) call(ctx context.Context, name string, op opKind) (Result, error) {
	w, ok := s.workers[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNotFound, name)
		return Result{Name: name, Error: err.Error(), Err: err}, err
	}
	if err := s.ready(); err != nil {
		return Result{Name: name, Status: w.status(), Error: err.Error(), Err: err}, err
	}
	return w.call(ctx, op)
}

// fanOut runs op on every named worker concurrently. All workers are
// attempted; the returned error joins every per-worker failure.
// fanOut 对每个工作进程并发执行操作，返回的错误合并了所有失败。
func (s *Supervisor) fanOut(ctx context.Context, names []string, op opKind) ([]Result, error) {
	results := make([]Result, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			res, err := s.call(ctx, name, op)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err == nil {
		return results, nil
	}

	var errs []error
	for _, res := range results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return results, errors.Join(errs...)
}
