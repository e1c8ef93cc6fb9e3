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

// Package api is the control and query surface of workerd: an HTTP API
// served with gin, a gRPC health service and Prometheus metrics.
// Package api 是 workerd 的控制与查询接口：gin HTTP 接口、gRPC 健康检查服务和 Prometheus 指标。
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/seatunnel/workerd/internal/config"
	"go.uber.org/zap"
)

// APIPrefix is the path prefix of every control route.
const APIPrefix = "/api/v1"

// Server is the HTTP control server.
// Server 是 HTTP 控制服务器。
type Server struct {
	cfg      config.APIConfig
	engine   *gin.Engine
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewServer builds the router. gatherer may be nil, in which case /metrics
// is not mounted.
// NewServer 构建路由，gatherer 为 nil 时不挂载 /metrics。
func NewServer(cfg config.APIConfig, h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	return &Server{
		cfg:    cfg,
		engine: NewRouter(h, gatherer, logger),
		logger: logger,
	}
}

// NewRouter wires the control routes onto a new gin engine.
// NewRouter 在新的 gin 引擎上注册控制路由。
func NewRouter(h *Handler, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), loggerMiddleware(logger))

	apiV1Router := r.Group(APIPrefix)
	{
		apiV1Router.GET("/health", h.Health)
		apiV1Router.GET("/events", h.SearchEvents)

		workerRouter := apiV1Router.Group("/workers")
		{
			workerRouter.GET("", h.ListWorkers)
			workerRouter.GET("/:name", h.GetWorker)
			workerRouter.GET("/:name/events", h.ListEvents)
			workerRouter.POST("/:name/start", h.Start)
			workerRouter.POST("/:name/stop", h.Stop)
			workerRouter.POST("/:name/restart", h.Restart)
		}
	}

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves in the background.
// Start 监听配置的地址并在后台提供服务。
func (s *Server) Start() error {
	addr := s.cfg.Listen
	if addr == "" {
		addr = config.DefaultAPIListen
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("control API listening", zap.String("addr", listener.Addr().String()))
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control API server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Shutdown 停止接收请求并等待处理中的请求完成。
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// loggerMiddleware logs one line per request.
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
