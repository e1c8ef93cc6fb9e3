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
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/seatunnel/workerd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthServerTracksRunningState(t *testing.T) {
	hs := NewHealthServer([]string{"lords", "packs"}, nil)
	ctx := context.Background()

	st, err := hs.Check(ctx, "lords")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	hs.OnTransition(supervisor.Transition{Worker: "lords", From: supervisor.StateStarting, To: supervisor.StateRunning})
	st, _ = hs.Check(ctx, "lords")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)
	st, _ = hs.Check(ctx, "packs")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	hs.OnTransition(supervisor.Transition{Worker: "lords", From: supervisor.StateRunning, To: supervisor.StateCrashed})
	st, _ = hs.Check(ctx, "lords")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	_, err = hs.Check(ctx, "ghost")
	assert.Error(t, err)
}

func TestHealthServerOverGRPC(t *testing.T) {
	hs := NewHealthServer([]string{"lords"}, nil)
	require.NoError(t, hs.Start("127.0.0.1:0"))
	defer hs.Stop()
	assert.ErrorIs(t, hs.Start("127.0.0.1:0"), ErrServerAlreadyRunning)

	conn, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	hs.OnTransition(supervisor.Transition{Worker: "lords", To: supervisor.StateRunning})
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "lords"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestMetricsObserver(t *testing.T) {
	sup := newTestSupervisor(t, shell("lords", "sleep 30"))
	m := NewMetrics(sup)

	m.OnTransition(supervisor.Transition{Worker: "lords", From: supervisor.StateRunning, To: supervisor.StateCrashed})
	m.OnTransition(supervisor.Transition{Worker: "lords", From: supervisor.StateCrashed, To: supervisor.StateRestartBackoff})
	m.OnTransition(supervisor.Transition{Worker: "lords", From: supervisor.StateRunning, To: supervisor.StateCrashed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.crashes.WithLabelValues("lords")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("lords", "crashed", "restart_backoff")))
	assert.Equal(t, 6+5, testutil.CollectAndCount(newWorkerCollector(sup)))
}
