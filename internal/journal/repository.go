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
	"time"

	"gorm.io/gorm"
)

// DefaultBatchSize is the insert batch size for CreateBatch.
const DefaultBatchSize = 100

// Repository provides data access for worker transitions.
// Repository 提供工作进程迁移记录的数据访问。
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new journal repository.
// NewRepository 创建新的日志仓库。
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates or updates the journal table.
// Migrate 创建或更新日志表。
func (r *Repository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&TransitionEvent{})
}

// Create stores one transition.
// Create 保存一条迁移记录。
func (r *Repository) Create(ctx context.Context, event *TransitionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateBatch stores transitions in one or more inserts.
// CreateBatch 批量保存迁移记录。
func (r *Repository) CreateBatch(ctx context.Context, events []*TransitionEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(events, DefaultBatchSize).Error
}

// ListEvents retrieves transitions with filtering and pagination, newest first.
// A nil filter lists every transition.
// ListEvents 获取带过滤和分页的迁移记录，按时间倒序，filter 为 nil 时返回全部。
func (r *Repository) ListEvents(ctx context.Context, filter *EventFilter) ([]*TransitionEvent, int64, error) {
	var events []*TransitionEvent
	var total int64

	if filter == nil {
		filter = &EventFilter{}
	}

	query := r.db.WithContext(ctx).Model(&TransitionEvent{})

	// Apply filters / 应用过滤条件
	if filter.Worker != "" {
		query = query.Where("worker = ?", filter.Worker)
	}
	if filter.ToState != "" {
		query = query.Where("to_state = ?", filter.ToState)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page > 0 && filter.PageSize > 0 {
		offset := (filter.Page - 1) * filter.PageSize
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	if err := query.Order("created_at DESC, id DESC").Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// ListByWorker returns the latest transitions of one worker.
// ListByWorker 返回单个工作进程最近的迁移记录。
func (r *Repository) ListByWorker(ctx context.Context, worker string, limit int) ([]*TransitionEvent, error) {
	var events []*TransitionEvent
	query := r.db.WithContext(ctx).Where("worker = ?", worker).Order("created_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// DeleteBefore removes transitions older than t and returns how many were removed.
// DeleteBefore 删除早于 t 的迁移记录并返回删除数量。
func (r *Repository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", t).Delete(&TransitionEvent{})
	return res.RowsAffected, res.Error
}
