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

// Package monitor samples the memory footprint of running workers.
// monitor 包周期性采样运行中工作进程的内存占用。
//
// The monitor only reads: it reports samples to a Source, which owns the
// comparison against the limit and any resulting restart.
// 监控器只负责读取，样本上报给 Source，由其负责与限制比较并决定重启。
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/seatunnel/workerd/internal/process"
	"go.uber.org/zap"
)

// DefaultMonitorInterval is the default interval for memory sampling
// DefaultMonitorInterval 是内存采样的默认间隔
const DefaultMonitorInterval = 5 * time.Second

// Target is one running instance to sample.
// Target 是一个待采样的运行实例。
type Target struct {
	Name       string
	InstanceID string
	PID        int
}

// Source lists the instances to sample and receives the samples.
// Source 列出待采样实例并接收采样结果。
type Source interface {
	MonitorTargets() []Target
	ReportMemory(name, instanceID string, bytes uint64)
}

// Sampler reads the resident memory of a pid.
// Sampler 读取进程的常驻内存。
type Sampler func(pid int) (uint64, error)

// ResourceMonitor periodically samples every running worker.
// ResourceMonitor 周期性地采样每个运行中的工作进程。
type ResourceMonitor struct {
	source   Source
	sampler  Sampler
	interval time.Duration
	logger   *zap.Logger

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
	mu      sync.Mutex
}

// NewResourceMonitor creates a monitor reading real process memory.
// NewResourceMonitor 创建读取真实进程内存的监控器。
func NewResourceMonitor(source Source, logger *zap.Logger) *ResourceMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResourceMonitor{
		source:   source,
		sampler:  process.ReadRSS,
		interval: DefaultMonitorInterval,
		logger:   logger.Named("monitor"),
	}
}

// SetInterval sets the sampling interval
// SetInterval 设置采样间隔
func (m *ResourceMonitor) SetInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if interval > 0 {
		m.interval = interval
	}
}

// SetSampler replaces the memory reader
// SetSampler 替换内存读取函数
func (m *ResourceMonitor) SetSampler(sampler Sampler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampler = sampler
}

// Start starts the sampling loop
// Start 启动采样循环
func (m *ResourceMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.running = true

	m.logger.Info("resource monitor started", zap.Duration("interval", m.interval))
	go m.loop(ctx, m.interval, m.done)
	return nil
}

// Stop stops the sampling loop and waits for it to exit
// Stop 停止采样循环并等待其退出
func (m *ResourceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	m.logger.Info("resource monitor stopped")
}

func (m *ResourceMonitor) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleOnce()
		}
	}
}

// SampleOnce samples every current target once. A target that disappears
// between listing and sampling is skipped.
// SampleOnce 对当前所有目标采样一次，列出后消失的目标会被跳过。
func (m *ResourceMonitor) SampleOnce() {
	m.mu.Lock()
	sampler := m.sampler
	m.mu.Unlock()

	for _, target := range m.source.MonitorTargets() {
		bytes, err := sampler(target.PID)
		if err != nil {
			m.logger.Debug("memory sample failed",
				zap.String("worker", target.Name),
				zap.Int("pid", target.PID),
				zap.Error(err))
			continue
		}
		m.source.ReportMemory(target.Name, target.InstanceID, bytes)
	}
}
