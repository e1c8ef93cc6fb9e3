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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/seatunnel/workerd/internal/supervisor"
)

const metricsNamespace = "workerd"

// StatusLister is the read side of the supervisor used by the metrics collector.
type StatusLister interface {
	ListProcesses() []supervisor.Status
}

// Metrics holds the Prometheus instruments of workerd. It counts transitions
// as an observer and reads worker gauges from snapshots at scrape time.
// Metrics 持有 workerd 的 Prometheus 指标：作为观察者统计迁移次数，抓取时从快照读取工作进程指标。
type Metrics struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	crashes     *prometheus.CounterVec
}

// NewMetrics registers the workerd metrics on a fresh registry.
// NewMetrics 在新的注册表上注册 workerd 指标。
func NewMetrics(lister StatusLister) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transitions_total",
			Help:      "Worker lifecycle transitions.",
		}, []string{"worker", "from", "to"}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "crashes_total",
			Help:      "Worker crashes, including memory limit kills.",
		}, []string{"worker"}),
	}
	m.registry.MustRegister(
		m.transitions,
		m.crashes,
		newWorkerCollector(lister),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Gatherer returns the registry for the /metrics handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// OnTransition implements supervisor.Observer.
func (m *Metrics) OnTransition(t supervisor.Transition) {
	m.transitions.WithLabelValues(t.Worker, string(t.From), string(t.To)).Inc()
	if t.To == supervisor.StateCrashed {
		m.crashes.WithLabelValues(t.Worker).Inc()
	}
}

// workerCollector exports per-worker gauges from status snapshots.
type workerCollector struct {
	lister      StatusLister
	state       *prometheus.Desc
	memory      *prometheus.Desc
	memoryLimit *prometheus.Desc
	restarts    *prometheus.Desc
	failures    *prometheus.Desc
	uptime      *prometheus.Desc
}

func newWorkerCollector(lister StatusLister) *workerCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "worker", name), help, labels, nil)
	}
	return &workerCollector{
		lister:      lister,
		state:       desc("state", "1 for the current lifecycle state of the worker.", "worker", "state"),
		memory:      desc("memory_bytes", "Last sampled resident memory.", "worker"),
		memoryLimit: desc("memory_limit_bytes", "Configured memory limit, 0 when unlimited.", "worker"),
		restarts:    desc("restart_count", "Restarts since the supervisor started.", "worker"),
		failures:    desc("consecutive_failures", "Consecutive failures counted by the restart policy.", "worker"),
		uptime:      desc("uptime_seconds", "Uptime of the current instance.", "worker"),
	}
}

func (c *workerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.memory
	ch <- c.memoryLimit
	ch <- c.restarts
	ch <- c.failures
	ch <- c.uptime
}

func (c *workerCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.lister.ListProcesses() {
		for _, s := range supervisor.States {
			v := 0.0
			if st.State == s {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.Name, string(s))
		}
		ch <- prometheus.MustNewConstMetric(c.memory, prometheus.GaugeValue, float64(st.MemoryBytes), st.Name)
		ch <- prometheus.MustNewConstMetric(c.memoryLimit, prometheus.GaugeValue, float64(st.MemoryLimitBytes), st.Name)
		ch <- prometheus.MustNewConstMetric(c.restarts, prometheus.GaugeValue, float64(st.RestartCount), st.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue, float64(st.ConsecutiveFailures), st.Name)
		ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, st.UptimeSecond, st.Name)
	}
}
