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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/seatunnel/workerd/internal/supervisor"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Errors for gRPC health server operations
// gRPC 健康检查服务器操作的错误定义
var (
	// ErrServerAlreadyRunning indicates the server is already running.
	// ErrServerAlreadyRunning 表示服务器已在运行。
	ErrServerAlreadyRunning = errors.New("grpc: server is already running")
)

// HealthServer exposes the standard gRPC health service. Each worker is a
// service named after it, SERVING exactly while the worker is running. The
// empty service name reports the daemon itself.
// HealthServer 提供标准 gRPC 健康检查服务，每个工作进程对应一个同名服务，仅在运行时为 SERVING。
type HealthServer struct {
	health *health.Server
	logger *zap.Logger

	mu         sync.Mutex
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewHealthServer creates a health server with every worker NOT_SERVING.
// NewHealthServer 创建健康检查服务器，所有工作进程初始为 NOT_SERVING。
func NewHealthServer(workers []string, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := health.NewServer()
	for _, name := range workers {
		h.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return &HealthServer{health: h, logger: logger.Named("grpc")}
}

// OnTransition updates the worker's serving status; it implements
// supervisor.Observer.
// OnTransition 更新工作进程的服务状态，实现 supervisor.Observer。
func (s *HealthServer) OnTransition(t supervisor.Transition) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if t.To == supervisor.StateRunning {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(t.Worker, st)
}

// Check answers a health request in process, without a network round trip.
func (s *HealthServer) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Start listens on addr and serves the health service in the background.
// Start 监听 addr 并在后台提供健康检查服务。
func (s *HealthServer) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcServer != nil {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.grpcServer = grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 15 * time.Minute,
			Time:              5 * time.Minute,
			Timeout:           20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(s.loggingUnaryInterceptor, s.recoveryUnaryInterceptor),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.listener = listener

	s.logger.Info("gRPC health service listening", zap.String("addr", listener.Addr().String()))
	srv := s.grpcServer
	go func() {
		if err := srv.Serve(listener); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *HealthServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop marks every service NOT_SERVING and stops the server.
// Stop 将所有服务标记为 NOT_SERVING 并停止服务器。
func (s *HealthServer) Stop() {
	s.health.Shutdown()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcServer == nil {
		return
	}
	s.grpcServer.GracefulStop()
	s.grpcServer = nil
	s.listener = nil
	s.logger.Info("gRPC health service stopped")
}

// loggingUnaryInterceptor logs unary RPC calls.
// loggingUnaryInterceptor 记录一元 RPC 调用。
func (s *HealthServer) loggingUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()

	peerAddr := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		peerAddr = p.Addr.String()
	}

	resp, err := handler(ctx, req)

	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("peer", peerAddr),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.logger.Warn("gRPC unary call failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("gRPC unary call completed", fields...)
	}
	return resp, err
}

// recoveryUnaryInterceptor recovers from panics in unary handlers.
// recoveryUnaryInterceptor 从一元处理器的 panic 中恢复。
func (s *HealthServer) recoveryUnaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gRPC unary handler panic",
				zap.String("method", info.FullMethod),
				zap.Any("panic", r),
			)
			err = status.Errorf(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}
