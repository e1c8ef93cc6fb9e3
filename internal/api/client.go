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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seatunnel/workerd/internal/journal"
	"github.com/seatunnel/workerd/internal/supervisor"
)

// Client talks to a running workerd daemon over the control API. Daemon
// errors come back as *Error, which unwraps to the matching sentinel.
// Client 通过控制接口访问运行中的 workerd 守护进程，错误以 *Error 返回并可匹配对应的哨兵错误。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon listening on addr, given as
// host:port or a full URL.
// NewClient 为监听在 addr 上的守护进程创建客户端。
func NewClient(addr string, timeout time.Duration) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/") + APIPrefix,
		http:    &http.Client{Timeout: timeout},
	}
}

// Start starts one worker, or every worker when name is "all".
func (c *Client) Start(ctx context.Context, name string) ([]supervisor.Result, error) {
	return c.control(ctx, name, "start")
}

// Stop stops one worker, or every worker when name is "all".
func (c *Client) Stop(ctx context.Context, name string) ([]supervisor.Result, error) {
	return c.control(ctx, name, "stop")
}

// Restart restarts one worker, or every worker when name is "all".
func (c *Client) Restart(ctx context.Context, name string) ([]supervisor.Result, error) {
	return c.control(ctx, name, "restart")
}

func (c *Client) control(ctx context.Context, name, verb string) ([]supervisor.Result, error) {
	var resp ResultsResponse
	err := c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(name)+"/"+verb, &resp)
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Results, err
	}
	return resp.Results, err
}

// Status returns the snapshot of one worker.
func (c *Client) Status(ctx context.Context, name string) (supervisor.Status, error) {
	var st supervisor.Status
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(name), &st)
	return st, err
}

// List returns snapshots of every worker.
func (c *Client) List(ctx context.Context) ([]supervisor.Status, error) {
	var resp WorkersResponse
	err := c.do(ctx, http.MethodGet, "/workers", &resp)
	return resp.Workers, err
}

// Events returns the latest journal entries of one worker.
func (c *Client) Events(ctx context.Context, name string, limit int) ([]*journal.TransitionEvent, error) {
	path := "/workers/" + url.PathEscape(name) + "/events"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp EventsResponse
	err := c.do(ctx, http.MethodGet, path, &resp)
	return resp.Events, err
}

// SearchEvents pages through the journal across workers. Zero fields of
// filter are not sent.
// SearchEvents 跨工作进程分页检索迁移日志，filter 中的零值字段不会发送。
func (c *Client) SearchEvents(ctx context.Context, filter journal.EventFilter) (EventPageResponse, error) {
	q := url.Values{}
	if filter.Worker != "" {
		q.Set("worker", filter.Worker)
	}
	if filter.ToState != "" {
		q.Set("to_state", filter.ToState)
	}
	if filter.StartTime != nil {
		q.Set("since", filter.StartTime.Format(time.RFC3339))
	}
	if filter.EndTime != nil {
		q.Set("until", filter.EndTime.Format(time.RFC3339))
	}
	if filter.Page > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
	}
	if filter.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(filter.PageSize))
	}

	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp EventPageResponse
	err := c.do(ctx, http.MethodGet, path, &resp)
	return resp, err
}

// Health returns the daemon health summary.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var resp HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return fmt.Errorf("%w: %w", supervisor.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrUnreachable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var er ErrorResponse
		if jsonErr := json.Unmarshal(body, &er); jsonErr != nil || er.Kind == "" {
			return &Error{
				Kind:       KindInternal,
				Message:    fmt.Sprintf("unexpected response %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
				StatusCode: resp.StatusCode,
			}
		}
		return &Error{Kind: er.Kind, Message: er.Error, StatusCode: resp.StatusCode, Results: er.Results}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
