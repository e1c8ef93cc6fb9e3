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
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/seatunnel/workerd/internal/journal"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
	"go.uber.org/zap"
)

// DefaultEventLimit is the number of journal entries returned when no limit is given.
const DefaultEventLimit = 50

// MaxEventLimit caps the limit query parameter.
const MaxEventLimit = 1000

// Controller is the part of the supervisor the API drives. Every handler maps
// to exactly one of these calls.
// Controller 是接口层调用的监督器操作，每个处理器对应其中一个调用。
type Controller interface {
	StartProcess(ctx context.Context, name string) (supervisor.Result, error)
	StopProcess(ctx context.Context, name string) (supervisor.Result, error)
	RestartProcess(ctx context.Context, name string) (supervisor.Result, error)
	StartAll(ctx context.Context) ([]supervisor.Result, error)
	StopAll(ctx context.Context) ([]supervisor.Result, error)
	RestartAll(ctx context.Context) ([]supervisor.Result, error)
	GetStatus(name string) (supervisor.Status, error)
	ListProcesses() []supervisor.Status
}

// EventSource reads the transition journal.
// EventSource 读取状态迁移日志。
type EventSource interface {
	ListByWorker(ctx context.Context, worker string, limit int) ([]*journal.TransitionEvent, error)
	ListEvents(ctx context.Context, filter *journal.EventFilter) ([]*journal.TransitionEvent, int64, error)
}

// Handler provides HTTP handlers for worker control.
// Handler 提供工作进程控制的 HTTP 处理器。
type Handler struct {
	ctrl    Controller
	events  EventSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a Handler. events may be nil when the journal is disabled.
// NewHandler 创建处理器，日志未启用时 events 可为 nil。
func NewHandler(ctrl Controller, events EventSource, timeout time.Duration, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ctrl: ctrl, events: events, timeout: timeout, logger: logger}
}

// ==================== Request/Response Types 请求/响应类型 ====================

// ResultsResponse is returned by start, stop and restart.
// ResultsResponse 是启动、停止、重启操作的响应。
type ResultsResponse struct {
	Results []supervisor.Result `json:"results"`
}

// WorkersResponse is returned by the worker list.
// WorkersResponse 是工作进程列表的响应。
type WorkersResponse struct {
	Workers []supervisor.Status `json:"workers"`
}

// EventsResponse is returned by the journal query.
// EventsResponse 是迁移日志查询的响应。
type EventsResponse struct {
	Worker string                     `json:"worker"`
	Events []*journal.TransitionEvent `json:"events"`
}

// EventPageResponse is returned by the journal search.
// EventPageResponse 是迁移日志检索的响应。
type EventPageResponse struct {
	Events   []*journal.TransitionEvent `json:"events"`
	Total    int64                      `json:"total"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
}

// HealthResponse is returned by the health check.
// HealthResponse 是健康检查的响应。
type HealthResponse struct {
	Status  string                   `json:"status"`
	Workers int                      `json:"workers"`
	States  map[supervisor.State]int `json:"states"`
}

// ==================== Handlers 处理器 ====================

type controlOp struct {
	one func(ctx context.Context, name string) (supervisor.Result, error)
	all func(ctx context.Context) ([]supervisor.Result, error)
}

// Start handles POST /workers/:name/start
func (h *Handler) Start(c *gin.Context) {
	h.control(c, "start", controlOp{one: h.ctrl.StartProcess, all: h.ctrl.StartAll})
}

// Stop handles POST /workers/:name/stop
func (h *Handler) Stop(c *gin.Context) {
	h.control(c, "stop", controlOp{one: h.ctrl.StopProcess, all: h.ctrl.StopAll})
}

// Restart handles POST /workers/:name/restart
func (h *Handler) Restart(c *gin.Context) {
	h.control(c, "restart", controlOp{one: h.ctrl.RestartProcess, all: h.ctrl.RestartAll})
}

func (h *Handler) control(c *gin.Context, verb string, op controlOp) {
	name := c.Param("name")
	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var (
		results []supervisor.Result
		err     error
	)
	if name == registry.AllWorkers {
		results, err = op.all(ctx)
	} else {
		var res supervisor.Result
		res, err = op.one(ctx, name)
		results = []supervisor.Result{res}
	}

	if err != nil {
		h.logger.Warn("control request failed",
			zap.String("op", verb), zap.String("worker", name), zap.Error(err))
		respondError(c, err, results)
		return
	}
	c.JSON(http.StatusOK, ResultsResponse{Results: results})
}

// ListWorkers handles GET /workers
func (h *Handler) ListWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, WorkersResponse{Workers: h.ctrl.ListProcesses()})
}

// GetWorker handles GET /workers/:name
func (h *Handler) GetWorker(c *gin.Context) {
	st, err := h.ctrl.GetStatus(c.Param("name"))
	if err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ListEvents handles GET /workers/:name/events?limit=N
func (h *Handler) ListEvents(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.ctrl.GetStatus(name); err != nil {
		respondError(c, err, nil)
		return
	}

	limit := DefaultEventLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, fmt.Errorf("%w: limit must be a positive integer", ErrInvalidRequest), nil)
			return
		}
		limit = min(n, MaxEventLimit)
	}

	resp := EventsResponse{Worker: name, Events: []*journal.TransitionEvent{}}
	if h.events != nil {
		events, err := h.events.ListByWorker(c.Request.Context(), name, limit)
		if err != nil {
			h.logger.Error("failed to read journal", zap.String("worker", name), zap.Error(err))
			respondError(c, err, nil)
			return
		}
		if events != nil {
			resp.Events = events
		}
	}
	c.JSON(http.StatusOK, resp)
}

// SearchEvents handles GET /events?worker=&to_state=&since=&until=&page=&page_size=
// since and until are RFC 3339 timestamps.
// SearchEvents 按工作进程、目标状态和时间范围分页检索迁移日志。
func (h *Handler) SearchEvents(c *gin.Context) {
	filter, err := h.parseEventFilter(c)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	resp := EventPageResponse{
		Events:   []*journal.TransitionEvent{},
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}
	if h.events != nil {
		events, total, err := h.events.ListEvents(c.Request.Context(), filter)
		if err != nil {
			h.logger.Error("failed to search journal", zap.Error(err))
			respondError(c, err, nil)
			return
		}
		if events != nil {
			resp.Events = events
		}
		resp.Total = total
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) parseEventFilter(c *gin.Context) (*journal.EventFilter, error) {
	filter := &journal.EventFilter{Page: 1, PageSize: DefaultEventLimit}

	if worker := c.Query("worker"); worker != "" {
		if _, err := h.ctrl.GetStatus(worker); err != nil {
			return nil, err
		}
		filter.Worker = worker
	}
	if state := c.Query("to_state"); state != "" {
		if !supervisor.State(state).Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrInvalidRequest, state)
		}
		filter.ToState = state
	}

	for _, tp := range []struct {
		param string
		dst   **time.Time
	}{
		{"since", &filter.StartTime},
		{"until", &filter.EndTime},
	} {
		raw := c.Query(tp.param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", ErrInvalidRequest, tp.param)
		}
		*tp.dst = &t
	}
	if filter.StartTime != nil && filter.EndTime != nil && filter.EndTime.Before(*filter.StartTime) {
		return nil, fmt.Errorf("%w: until is before since", ErrInvalidRequest)
	}

	for _, ip := range []struct {
		param string
		dst   *int
	}{
		{"page", &filter.Page},
		{"page_size", &filter.PageSize},
	} {
		raw := c.Query(ip.param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: %s must be a positive integer", ErrInvalidRequest, ip.param)
		}
		*ip.dst = n
	}
	filter.PageSize = min(filter.PageSize, MaxEventLimit)
	return filter, nil
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	statuses := h.ctrl.ListProcesses()
	states := make(map[supervisor.State]int)
	for _, st := range statuses {
		states[st.State]++
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Workers: len(statuses), States: states})
}

func respondError(c *gin.Context, err error, results []supervisor.Result) {
	kind, status := Classify(err)
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind, Results: results})
}
