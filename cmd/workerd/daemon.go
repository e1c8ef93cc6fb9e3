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

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seatunnel/workerd/internal/api"
	"github.com/seatunnel/workerd/internal/config"
	"github.com/seatunnel/workerd/internal/journal"
	"github.com/seatunnel/workerd/internal/logger"
	"github.com/seatunnel/workerd/internal/monitor"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// shutdownSlack is added to the stop and kill windows when bounding shutdown.
const shutdownSlack = 5 * time.Second

// Daemon wires the registry, supervisor, resource monitor, journal and
// control API of a running workerd.
// Daemon 组装运行中 workerd 的注册表、监督器、资源监控、迁移日志和控制接口。
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	monitor    *monitor.ResourceMonitor
	metrics    *api.Metrics
	health     *api.HealthServer
	server     *api.Server

	// db, repo and recorder are nil when the journal is disabled.
	db       *gorm.DB
	repo     *journal.Repository
	recorder *journal.Recorder

	ready        chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewDaemon builds every component from cfg. A roster error is returned
// before anything is started.
// NewDaemon 根据配置构建所有组件，清单错误会在启动任何组件之前返回。
func NewDaemon(cfg *config.Config, log *zap.Logger) (*Daemon, error) {
	if log == nil {
		log = zap.NewNop()
	}

	reg, err := registry.Load(cfg.Workers, cfg.Supervisor)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   log,
		registry: reg,
		ready:    make(chan struct{}),
	}

	d.supervisor = supervisor.New(reg, supervisor.OptionsFromConfig(cfg.Supervisor), log)
	d.metrics = api.NewMetrics(d.supervisor)
	d.health = api.NewHealthServer(reg.Names(), log)
	d.supervisor.AddObserver(d.metrics)
	d.supervisor.AddObserver(d.health)

	var events api.EventSource
	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal, log)
		if err != nil {
			return nil, err
		}
		d.db = db
		d.repo = journal.NewRepository(db)
		if err := d.repo.Migrate(context.Background()); err != nil {
			_ = journal.Close(db)
			return nil, fmt.Errorf("failed to migrate journal: %w", err)
		}
		d.recorder = journal.NewRecorder(d.repo, cfg.Journal.Retention, log)
		d.supervisor.AddObserver(d.recorder)
		events = d.repo
	}

	d.monitor = monitor.NewResourceMonitor(d.supervisor, log)
	d.monitor.SetInterval(cfg.Supervisor.MonitorInterval)

	handler := api.NewHandler(d.supervisor, events, cfg.API.RequestTimeout, log)
	d.server = api.NewServer(cfg.API, handler, d.metrics.Gatherer(), log)
	return d, nil
}

// Run starts every component, boots the autostart workers and blocks until
// ctx is done, then shuts down.
// Run 启动所有组件并引导自动启动的工作进程，阻塞直到 ctx 结束后关闭。
func (d *Daemon) Run(ctx context.Context) error {
	start := time.Now()
	d.logger.Info("workerd starting",
		zap.String("version", Version),
		zap.Int("workers", d.registry.Len()),
		zap.Bool("journal", d.recorder != nil),
	)

	d.supervisor.Start()
	if d.recorder != nil {
		// Stopped explicitly in Shutdown so the final transitions are written.
		d.recorder.Start(context.Background())
	}
	if err := d.monitor.Start(ctx); err != nil {
		return errors.Join(err, d.Shutdown(context.Background()))
	}
	if err := d.server.Start(); err != nil {
		return errors.Join(err, d.Shutdown(context.Background()))
	}
	if d.cfg.API.GRPCListen != "" {
		if err := d.health.Start(d.cfg.API.GRPCListen); err != nil {
			return errors.Join(err, d.Shutdown(context.Background()))
		}
	}

	results, err := d.supervisor.Boot(ctx)
	if err != nil {
		// Boot failures are recovered by the restart policy; they never stop the daemon.
		d.logger.Warn("some workers failed to boot", zap.Error(err))
	}
	running := 0
	for _, res := range results {
		if res.Status.State == supervisor.StateRunning {
			running++
		}
	}
	d.logger.Info("workerd started",
		zap.Int("booted", len(results)),
		zap.Int("running", running),
		zap.String("api", d.server.Addr()),
		logger.Since(start),
	)
	close(d.ready)

	<-ctx.Done()
	d.logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.shutdownTimeout())
	defer cancel()
	return d.Shutdown(shutdownCtx)
}

// Ready is closed once Run has booted the autostart workers.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Shutdown stops the API, then every worker, then the journal. It is safe
// to call more than once.
// Shutdown 依次停止控制接口、所有工作进程和迁移日志，可重复调用。
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		start := time.Now()
		var errs []error

		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("control API: %w", err))
		}
		d.monitor.Stop()
		if err := d.supervisor.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
		d.health.Stop()
		if d.recorder != nil {
			d.recorder.Stop()
		}
		if d.db != nil {
			if err := journal.Close(d.db); err != nil {
				errs = append(errs, fmt.Errorf("journal: %w", err))
			}
		}

		d.shutdownErr = errors.Join(errs...)
		d.logger.Info("workerd stopped", logger.Since(start), zap.Error(d.shutdownErr))
	})
	return d.shutdownErr
}

func (d *Daemon) shutdownTimeout() time.Duration {
	stop := d.cfg.Supervisor.StopTimeout
	for _, spec := range d.registry.Specs() {
		stop = max(stop, spec.StopTimeout)
	}
	return stop + d.cfg.Supervisor.KillTimeout + shutdownSlack
}
