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
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/seatunnel/workerd/internal/process"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/restart"
	"go.uber.org/zap"
)

type opKind int

const (
	opStart opKind = iota
	opStop
	opRestart
)

func (k opKind) String() string {
	switch k {
	case opStart:
		return "start"
	case opStop:
		return "stop"
	default:
		return "restart"
	}
}

type reply struct {
	status  Status
	already bool
	err     error
}

type request struct {
	op    opKind
	reply chan reply
}

type exitEvent struct {
	id     string
	status process.ExitStatus
}

type memEvent struct {
	id    string
	bytes uint64
}

type timerKind int

const (
	timerNone timerKind = iota
	timerStartGrace
	timerStopGrace
	timerKillWait
	timerBackoff
	timerRestartGap
)

// worker is the serialized control loop of one worker. Every field below the
// channels is owned by run and only touched from it; readers use snapshot.
// worker 是单个工作进程的串行控制循环，通道以下的字段只在 run 中访问，读者使用快照。
type worker struct {
	spec      *registry.ProcessSpec
	opts      Options
	logger    *zap.Logger
	observers []Observer

	reqs  chan request
	exits chan exitEvent
	mem   chan memEvent
	quit  <-chan struct{}
	done  chan struct{}

	state         State
	reason        string
	handle        *process.Handle
	tracker       restart.Tracker
	restartCount  int
	timer         *time.Timer
	timerC        <-chan time.Time
	timerKind     timerKind
	pendingStarts []chan reply
	pendingStops  []chan reply
	restartQueued bool
	memoryKill    bool
	stoppedAt     time.Time
	nextRestartAt time.Time
	backoff       time.Duration
	gaveUp        bool
	lastExit      *process.ExitStatus
	lastErr       string

	mu       sync.RWMutex
	snapshot Status
	// resetAt is when the published failure count reads as zero.
	resetAt time.Time
}

func newWorker(spec *registry.ProcessSpec, opts Options, logger *zap.Logger, quit <-chan struct{}) *worker {
	w := &worker{
		spec:   spec,
		opts:   opts,
		logger: logger,
		reqs:   make(chan request),
		exits:  make(chan exitEvent),
		mem:    make(chan memEvent),
		quit:   quit,
		done:   make(chan struct{}),
		state:  StateStopped,
	}
	w.publish()
	return w
}

func (w *worker) run() {
	defer close(w.done)

	for {
		select {
		case req := <-w.reqs:
			switch req.op {
			case opStart:
				w.onStart(req.reply)
			case opStop:
				w.onStop(req.reply)
			case opRestart:
				w.onRestart(req.reply)
			}
		case ev := <-w.exits:
			w.onExit(ev)
		case ev := <-w.mem:
			w.onMemory(ev)
		case <-w.timerC:
			w.onTimer()
		case <-w.quit:
			w.terminate()
			return
		}
	}
}

// call submits a request and waits for its outcome. A request that times out
// on the caller side still runs to completion inside the loop.
// call 提交请求并等待结果，调用方超时后请求仍会在循环内执行完毕。
func (w *worker) call(ctx context.Context, op opKind) (Result, error) {
	r := make(chan reply, 1)
	fail := func(err error) (Result, error) {
		return Result{Name: w.spec.Name, Status: w.status(), Error: err.Error(), Err: err}, err
	}

	select {
	case w.reqs <- request{op: op, reply: r}:
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %s %s: %v", ErrTimeout, op, w.spec.Name, ctx.Err()))
	case <-w.done:
		return fail(ErrShutdown)
	}

	select {
	case rep := <-r:
		res := Result{Name: w.spec.Name, Status: rep.status, AlreadyRunning: rep.already, Err: rep.err}
		if rep.err != nil {
			res.Error = rep.err.Error()
		}
		return res, rep.err
	case <-ctx.Done():
		return fail(fmt.Errorf("%w: %s %s: %v", ErrTimeout, op, w.spec.Name, ctx.Err()))
	case <-w.done:
		return fail(ErrShutdown)
	}
}

func (w *worker) reportMemory(id string, bytes uint64) {
	select {
	case w.mem <- memEvent{id: id, bytes: bytes}:
	case <-w.done:
	}
}

// status returns a copy of the last published snapshot.
func (w *worker) status() Status {
	w.mu.RLock()
	s := w.snapshot
	resetAt := w.resetAt
	w.mu.RUnlock()

	if !resetAt.IsZero() && !time.Now().Before(resetAt) {
		s.ConsecutiveFailures = 0
	}

	if s.State == StateStarting || s.State == StateRunning || s.State == StateStopping {
		if !s.StartedAt.IsZero() {
			s.UptimeSecond = time.Since(s.StartedAt).Seconds()
		}
	}
	return s
}

func (w *worker) publish() {
	s := Status{
		Name:                w.spec.Name,
		State:               w.state,
		Reason:              w.reason,
		Port:                w.spec.Port,
		RestartCount:        w.restartCount,
		ConsecutiveFailures: w.tracker.Failures(),
		MemoryLimitBytes:    w.spec.MemoryLimitBytes,
		LastExit:            w.lastExit,
		LastError:           w.lastErr,
		UpdatedAt:           time.Now(),
	}
	if w.state == StateRestartBackoff {
		s.NextRestartAt = w.nextRestartAt
	}
	if h := w.handle; h != nil {
		s.InstanceID = h.ID
		s.PID = h.PID
		s.StartedAt = h.StartedAt
		s.MemoryBytes = h.Memory()
	}

	var resetAt time.Time
	if w.state == StateRunning {
		resetAt = w.tracker.ResetAt(w.spec.RestartPolicy)
	}

	w.mu.Lock()
	w.snapshot = s
	w.resetAt = resetAt
	w.mu.Unlock()
}

func (w *worker) transition(to State, reason string, inst *process.Handle, exit *process.ExitStatus) {
	t := Transition{
		Worker:       w.spec.Name,
		From:         w.state,
		To:           to,
		Reason:       reason,
		At:           time.Now(),
		RestartCount: w.restartCount,
		Exit:         exit,
	}
	if inst != nil {
		t.InstanceID = inst.ID
		t.PID = inst.PID
		if exit != nil {
			t.Uptime = inst.Uptime()
		}
	}
	if to == StateRestartBackoff {
		t.Backoff = w.backoff
	}
	t.GaveUp = w.gaveUp

	w.state = to
	w.reason = reason
	if to == StateStopped || to == StateCrashed {
		w.stoppedAt = t.At
	}
	w.publish()

	for _, o := range w.observers {
		o.OnTransition(t)
	}
}

func (w *worker) onStart(r chan reply) {
	switch w.state {
	case StateRunning:
		r <- reply{status: w.status(), already: true}
	case StateStarting:
		w.pendingStarts = append(w.pendingStarts, r)
	case StateStopping:
		w.restartQueued = true
		w.pendingStarts = append(w.pendingStarts, r)
	case StateRestartBackoff:
		w.stopTimer()
		w.tracker.Reset()
		w.pendingStarts = append(w.pendingStarts, r)
		w.spawn("start requested during backoff", true)
	default:
		w.pendingStarts = append(w.pendingStarts, r)
		if w.timerKind == timerRestartGap {
			return
		}
		w.tracker.Reset()
		w.spawn("start requested", false)
	}
}

func (w *worker) onStop(r chan reply) {
	switch w.state {
	case StateStarting, StateRunning:
		w.replyStarts(ErrCanceled)
		w.pendingStops = append(w.pendingStops, r)
		w.beginStop("stop requested")
	case StateStopping:
		if w.restartQueued {
			w.restartQueued = false
			w.replyStarts(ErrCanceled)
		}
		w.pendingStops = append(w.pendingStops, r)
	case StateRestartBackoff:
		w.stopTimer()
		w.transition(StateStopped, "stop requested during backoff", nil, nil)
		r <- reply{status: w.status()}
	default:
		if w.timerKind == timerRestartGap {
			w.stopTimer()
			w.replyStarts(ErrCanceled)
		}
		r <- reply{status: w.status()}
	}
}

func (w *worker) onRestart(r chan reply) {
	w.pendingStarts = append(w.pendingStarts, r)

	switch w.state {
	case StateStarting, StateRunning:
		w.restartQueued = true
		w.beginStop("restart requested")
	case StateStopping:
		w.restartQueued = true
	case StateRestartBackoff:
		w.stopTimer()
		w.tracker.Reset()
		w.spawnAfterGap()
	default:
		if w.timerKind == timerRestartGap {
			return
		}
		w.tracker.Reset()
		w.spawnAfterGap()
	}
}

func (w *worker) beginStop(reason string) {
	w.transition(StateStopping, reason, w.handle, nil)
	if err := w.handle.Terminate(); err != nil {
		w.logger.Warn("failed to send SIGTERM", zap.Int("pid", w.handle.PID), zap.Error(err))
	}

	timeout := w.spec.StopTimeout
	if timeout <= 0 {
		timeout = w.opts.StopTimeout
	}
	w.setTimer(timerStopGrace, timeout)
}

// spawnAfterGap starts the next instance once RestartMinGap has passed since
// the previous one was confirmed stopped.
// spawnAfterGap 在上一实例确认停止满 RestartMinGap 后启动下一实例。
func (w *worker) spawnAfterGap() {
	if !w.stoppedAt.IsZero() {
		if remaining := w.opts.RestartMinGap - time.Since(w.stoppedAt); remaining > 0 {
			w.setTimer(timerRestartGap, remaining)
			return
		}
	}
	w.spawn("restart requested", true)
}

func (w *worker) spawn(reason string, isRestart bool) {
	if isRestart {
		w.restartCount++
	}
	w.nextRestartAt = time.Time{}
	w.transition(StateStarting, reason, nil, nil)

	h, err := process.Spawn(w.spec)
	if err != nil {
		w.crash(err.Error(), nil, nil, restart.Exit{})
		return
	}

	w.handle = h
	w.memoryKill = false
	w.publish()
	w.logger.Debug("process spawned", zap.Int("pid", h.PID), zap.String("instance", h.ID))

	go w.watch(h)
	w.setTimer(timerStartGrace, w.opts.StartGrace)
}

func (w *worker) watch(h *process.Handle) {
	<-h.Done()
	select {
	case w.exits <- exitEvent{id: h.ID, status: h.Exit()}:
	case <-w.quit:
	}
}

func (w *worker) onExit(ev exitEvent) {
	if w.handle == nil || ev.id != w.handle.ID {
		return
	}

	inst := w.handle
	exit := ev.status
	w.handle = nil
	w.lastExit = &exit
	w.stopTimer()

	switch w.state {
	case StateStopping:
		if w.restartQueued {
			w.restartQueued = false
			w.transition(StateStopped, "stopped for restart: "+exit.String(), inst, &exit)
			w.replyStops(nil)
			w.spawnAfterGap()
			return
		}
		w.transition(StateStopped, "stopped: "+exit.String(), inst, &exit)
		w.replyStops(nil)
	case StateStarting:
		w.crash("exited during start grace: "+exit.String(), inst, &exit, restart.Exit{Clean: exit.Clean()})
	case StateRunning:
		if w.memoryKill {
			w.crash(w.lastErr, inst, &exit, restart.Exit{MemoryExceeded: true})
			return
		}
		w.crash("unexpected exit: "+exit.String(), inst, &exit, restart.Exit{Clean: exit.Clean()})
	}
}

// crash records the Crashed state and immediately moves on to either
// RestartBackoff or Stopped according to the restart policy.
// crash 记录崩溃状态，并根据重启策略立即进入 RestartBackoff 或 Stopped。
func (w *worker) crash(reason string, inst *process.Handle, exit *process.ExitStatus, ex restart.Exit) {
	w.lastErr = reason
	w.transition(StateCrashed, reason, inst, exit)
	w.replyStarts(fmt.Errorf("%w: %s", ErrStartFailed, reason))

	now := time.Now()
	decision := w.tracker.OnExit(w.spec.RestartPolicy, ex, now)
	if !decision.Restart {
		w.gaveUp = decision.Exhausted
		w.transition(StateStopped, decision.Reason, nil, nil)
		w.gaveUp = false
		return
	}

	w.backoff = decision.Delay
	w.nextRestartAt = now.Add(decision.Delay)
	w.setTimer(timerBackoff, decision.Delay)
	w.transition(StateRestartBackoff, decision.Reason, nil, nil)
}

func (w *worker) onMemory(ev memEvent) {
	if w.handle == nil || ev.id != w.handle.ID {
		return
	}
	w.handle.SetMemory(ev.bytes)

	limit := w.spec.MemoryLimitBytes
	if w.state == StateRunning && limit > 0 && ev.bytes > limit && !w.memoryKill {
		w.memoryKill = true
		w.lastErr = fmt.Sprintf("%v: %s > %s", ErrResourceLimitExceeded, humanize.Bytes(ev.bytes), humanize.Bytes(limit))
		w.logger.Warn("memory limit exceeded, killing worker",
			zap.Int("pid", w.handle.PID),
			zap.Uint64("memory_bytes", ev.bytes),
			zap.Uint64("limit_bytes", limit))
		if err := w.handle.Kill(); err != nil {
			w.logger.Warn("failed to send SIGKILL", zap.Int("pid", w.handle.PID), zap.Error(err))
		}
	}
	w.publish()
}

func (w *worker) onTimer() {
	kind := w.timerKind
	w.timer, w.timerC, w.timerKind = nil, nil, timerNone

	switch kind {
	case timerStartGrace:
		// An instance that already died is left to its pending exit event.
		if w.state == StateStarting && w.handle != nil && w.handle.Alive() {
			w.tracker.MarkRunning(time.Now())
			w.transition(StateRunning, fmt.Sprintf("alive after %s", w.opts.StartGrace), w.handle, nil)
			w.replyStarts(nil)
		}
	case timerStopGrace:
		if w.state == StateStopping && w.handle != nil {
			w.logger.Warn("graceful stop timed out, sending SIGKILL", zap.Int("pid", w.handle.PID))
			if err := w.handle.Kill(); err != nil {
				w.logger.Warn("failed to send SIGKILL", zap.Int("pid", w.handle.PID), zap.Error(err))
			}
			w.setTimer(timerKillWait, w.opts.KillTimeout)
		}
	case timerKillWait:
		if w.state == StateStopping && w.handle != nil {
			w.logger.Error("process did not exit after SIGKILL", zap.Int("pid", w.handle.PID))
			w.replyStops(fmt.Errorf("%w: %s did not exit after SIGKILL", ErrTimeout, w.spec.Name))
		}
	case timerBackoff:
		if w.state == StateRestartBackoff {
			w.spawn("backoff elapsed", true)
		}
	case timerRestartGap:
		if w.state == StateStopped {
			w.spawn("restart requested", true)
		}
	}
}

// terminate runs on supervisor shutdown after workers were asked to stop.
// Anything still alive at this point is killed.
func (w *worker) terminate() {
	w.stopTimer()

	switch h := w.handle; {
	case h != nil:
		w.logger.Warn("worker still alive at shutdown, sending SIGKILL",
			zap.Int("pid", h.PID), zap.String("state", string(w.state)))
		if err := h.Kill(); err != nil {
			w.logger.Warn("failed to send SIGKILL", zap.Int("pid", h.PID), zap.Error(err))
		}
		select {
		case <-h.Done():
		case <-time.After(w.opts.KillTimeout):
			w.logger.Error("process did not exit after SIGKILL", zap.Int("pid", h.PID))
		}

		var exit *process.ExitStatus
		if !h.Alive() {
			st := h.Exit()
			exit = &st
			w.lastExit = exit
		}
		w.handle = nil
		w.transition(StateStopped, "killed at shutdown", h, exit)
	case w.state == StateRestartBackoff:
		w.transition(StateStopped, "supervisor shutdown", nil, nil)
	}

	w.replyStarts(ErrShutdown)
	w.replyStops(ErrShutdown)
}

func (w *worker) setTimer(kind timerKind, d time.Duration) {
	w.stopTimer()
	w.timer = time.NewTimer(d)
	w.timerC = w.timer.C
	w.timerKind = kind
}

func (w *worker) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer, w.timerC, w.timerKind = nil, nil, timerNone
}

func (w *worker) replyStarts(err error) {
	if len(w.pendingStarts) == 0 {
		return
	}
	st := w.status()
	for _, r := range w.pendingStarts {
		r <- reply{status: st, err: err}
	}
	w.pendingStarts = nil
}

func (w *worker) replyStops(err error) {
	if len(w.pendingStops) == 0 {
		return
	}
	st := w.status()
	for _, r := range w.pendingStops {
		r <- reply{status: st, err: err}
	}
	w.pendingStops = nil
}
