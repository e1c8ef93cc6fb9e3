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

package journal

import (
	"context"
	"sync"
	"time"

	"github.com/seatunnel/workerd/internal/supervisor"
	"go.uber.org/zap"
)

// Default recorder settings
// 默认记录器设置
const (
	DefaultCacheSize     = 1000
	DefaultFlushInterval = 2 * time.Second
	DefaultPruneInterval = time.Hour
)

// Recorder caches transitions and writes them to the repository in batches.
// It is registered as a supervisor observer, so OnTransition never touches
// the database. Events that fail to write stay cached for the next flush; when
// the cache is full the oldest event is dropped.
// Recorder 缓存状态迁移并批量写入仓库；写入失败的事件保留到下次刷新，缓存满时丢弃最旧的事件。
type Recorder struct {
	repo          *Repository
	logger        *zap.Logger
	cacheSize     int
	flushInterval time.Duration
	retention     time.Duration

	mu      sync.Mutex
	cache   []*TransitionEvent
	running bool
	wake    chan struct{}
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRecorder creates a Recorder writing to repo. A zero retention keeps
// every transition.
// NewRecorder 创建写入 repo 的记录器，retention 为零表示永久保留。
func NewRecorder(repo *Repository, retention time.Duration, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		repo:          repo,
		logger:        logger.Named("journal"),
		cacheSize:     DefaultCacheSize,
		flushInterval: DefaultFlushInterval,
		retention:     retention,
		cache:         make([]*TransitionEvent, 0, DefaultBatchSize),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetFlushInterval sets the periodic flush interval
// SetFlushInterval 设置定期刷新间隔
func (r *Recorder) SetFlushInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.flushInterval = d
	}
}

// OnTransition caches the transition; it implements supervisor.Observer.
// OnTransition 缓存迁移记录，实现 supervisor.Observer。
func (r *Recorder) OnTransition(t supervisor.Transition) {
	r.mu.Lock()
	if len(r.cache) >= r.cacheSize {
		r.cache = r.cache[1:]
	}
	r.cache = append(r.cache, FromTransition(t))
	full := len(r.cache) >= DefaultBatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Start starts the flush loop
// Start 启动刷新循环
func (r *Recorder) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	go r.loop(ctx, r.flushInterval)
}

// Stop stops the flush loop after a final flush. Without a running loop it
// only flushes.
// Stop 在最后一次刷新后停止循环，循环未运行时仅执行刷新。
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		r.Flush(context.Background())
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done
	// The loop may have ended on its context before the last transitions arrived.
	r.Flush(context.Background())
}

func (r *Recorder) loop(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	prune := time.NewTicker(DefaultPruneInterval)
	defer prune.Stop()

	r.prune(ctx)
	for {
		select {
		case <-r.stopCh:
			r.Flush(context.Background())
			return
		case <-ctx.Done():
			r.Flush(context.Background())
			return
		case <-ticker.C:
			r.Flush(ctx)
		case <-r.wake:
			r.Flush(ctx)
		case <-prune.C:
			r.prune(ctx)
		}
	}
}

// Flush writes every cached transition. On failure the unwritten events are
// kept for the next attempt.
// Flush 写入所有缓存的迁移记录，失败时保留未写入的事件。
func (r *Recorder) Flush(ctx context.Context) {
	r.mu.Lock()
	batch := r.cache
	r.cache = make([]*TransitionEvent, 0, DefaultBatchSize)
	r.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		r.logger.Warn("failed to write transitions, keeping them cached",
			zap.Int("count", len(batch)), zap.Error(err))

		r.mu.Lock()
		merged := append(batch, r.cache...)
		if over := len(merged) - r.cacheSize; over > 0 {
			merged = merged[over:]
		}
		r.cache = merged
		r.mu.Unlock()
		return
	}
	r.logger.Debug("transitions written", zap.Int("count", len(batch)))
}

// Pending returns the number of cached, unwritten transitions.
// Pending 返回缓存中尚未写入的迁移记录数量。
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}

func (r *Recorder) prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	n, err := r.repo.DeleteBefore(ctx, time.Now().Add(-r.retention))
	if err != nil {
		r.logger.Warn("failed to prune transitions", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("pruned old transitions", zap.Int64("count", n), zap.Duration("retention", r.retention))
	}
}
