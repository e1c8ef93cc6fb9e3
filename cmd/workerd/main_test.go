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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seatunnel/workerd/internal/api"
	"github.com/seatunnel/workerd/internal/config"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the CLI with fresh flag values and returns the exit code
// and captured output.
func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	configFile, apiAddr, outputFormat, timeout, eventLimit = "", "", formatTable, 0, 0
	eventWorker, eventState, eventSince, eventPage, eventPageSize = "", "", 0, 1, 0

	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// TestExitCode tests error to exit code mapping
// TestExitCode 测试错误到退出码的映射
func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitError},
		{"config", fmt.Errorf("%w: bad level", errConfig), exitConfig},
		{"roster", &registry.ConfigError{Name: "lords", Field: "port", Err: registry.ErrDuplicatePort}, exitConfig},
		{"not found", fmt.Errorf("%w: ghost", supervisor.ErrNotFound), exitNotFound},
		{"api not found", &api.Error{Kind: api.KindNotFound, Message: "worker not found: ghost"}, exitNotFound},
		{"timeout", &api.Error{Kind: api.KindTimeout, Message: "operation timed out"}, exitTimeout},
		{"unreachable", fmt.Errorf("%w: connection refused", api.ErrUnreachable), exitUnreachable},
		{"start failed", &api.Error{Kind: api.KindStartFailed, Message: "worker failed to start"}, exitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestDialAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:9615", dialAddr("0.0.0.0:9615"))
	assert.Equal(t, "127.0.0.1:9615", dialAddr(":9615"))
	assert.Equal(t, "127.0.0.1:9615", dialAddr("[::]:9615"))
	assert.Equal(t, "10.0.0.5:9615", dialAddr("10.0.0.5:9615"))
	assert.Equal(t, "http://host:1", dialAddr("http://host:1"))
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
workers:
  - name: lords
    interpreter: venv/bin/python3
    script: lords.py
    port: 8001
    memory_limit: 1G
  - name: packs
    command: venv/bin/python3 packs.py
    port: 8002
    autorestart: false
`)

	code, out, errOut := runCLI(t, "validate", "-c", path)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "lords")
	assert.Contains(t, out, "1.0 GB")
	assert.Contains(t, out, "venv/bin/python3 packs.py")
	assert.Contains(t, out, "never")

	code, out, _ = runCLI(t, "validate", "-c", path, "-o", "json")
	require.Equal(t, exitOK, code)
	var specs []registry.ProcessSpec
	require.NoError(t, json.Unmarshal([]byte(out), &specs))
	require.Len(t, specs, 2)
	assert.Equal(t, uint64(1_000_000_000), specs[0].MemoryLimitBytes)
	assert.Equal(t, "8002", specs[1].Environment["PORT"])

	code, out, _ = runCLI(t, "validate", "-c", path, "-o", "yaml")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "name: packs")
}

func TestValidateRejectsBadRoster(t *testing.T) {
	dup := writeConfig(t, `
workers:
  - name: lords
    command: sleep 30
    port: 8001
  - name: packs
    command: sleep 30
    port: 8001
`)
	code, _, errOut := runCLI(t, "validate", "-c", dup)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "8001")

	badLevel := writeConfig(t, "log:\n  level: loud\n")
	code, _, _ = runCLI(t, "validate", "-c", badLevel)
	assert.Equal(t, exitConfig, code)

	code, _, _ = runCLI(t, "run", "-c", dup)
	assert.Equal(t, exitConfig, code)
}

func TestUnknownOutputFormat(t *testing.T) {
	code, _, errOut := runCLI(t, "version", "-o", "xml")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "xml")
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Version:")
}

// TestDaemonEndToEnd runs the daemon with real workers and drives it through
// the CLI.
// TestDaemonEndToEnd 使用真实工作进程运行守护进程，并通过 CLI 控制它。
func TestDaemonEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadFromYAML([]byte(fmt.Sprintf(`
log:
  level: error
api:
  listen: 127.0.0.1:0
  request_timeout: 10s
journal:
  enabled: true
  type: sqlite
  sqlite_path: %s
supervisor:
  start_grace: 100ms
  stop_timeout: 2s
  kill_timeout: 2s
  restart_min_gap: 50ms
  monitor_interval: 50ms
workers:
  - name: lords
    interpreter: /bin/sh
    script: -c
    args: ["sleep 30"]
    port: 8001
  - name: packs
    command: sleep 30
    port: 8002
    memory_limit: 1G
    autostart: false
`, filepath.Join(dir, "journal", "workerd.db"))))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	d, err := NewDaemon(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	stopped := false
	stop := func() error {
		cancel()
		stopped = true
		select {
		case err := <-runErr:
			return err
		case <-time.After(15 * time.Second):
			return errors.New("daemon did not stop")
		}
	}
	t.Cleanup(func() {
		if !stopped {
			_ = stop()
		}
	})

	select {
	case <-d.Ready():
	case err := <-runErr:
		stopped = true
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon never became ready")
	}
	addr := d.server.Addr()

	// Boot starts autostart workers only.
	code, out, errOut := runCLI(t, "status", "--addr", addr, "-o", "json")
	require.Equal(t, exitOK, code, errOut)
	var statuses []supervisor.Status
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, supervisor.StateRunning, statuses[0].State)
	assert.Equal(t, supervisor.StateStopped, statuses[1].State)

	code, out, errOut = runCLI(t, "start", "packs", "--addr", addr)
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "running")

	code, _, errOut = runCLI(t, "stop", "ghost", "--addr", addr)
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut, "ghost")

	code, out, errOut = runCLI(t, "restart", "all", "--addr", addr, "-o", "yaml")
	require.Equal(t, exitOK, code, errOut)
	assert.Equal(t, 2, strings.Count(out, "restart_count: 1"))

	client := api.NewClient(addr, 5*time.Second)
	require.Eventually(t, func() bool {
		events, err := client.Events(context.Background(), "packs", 20)
		return err == nil && len(events) >= 4
	}, 10*time.Second, 100*time.Millisecond, "journal never caught up")

	code, out, errOut = runCLI(t, "status", "packs", "--addr", addr, "--events", "3")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "WHEN")

	code, out, errOut = runCLI(t, "events", "--addr", addr, "--worker", "packs", "--state", "running", "--since", "1h")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "WORKER")
	assert.Contains(t, out, "packs")
	assert.NotContains(t, out, "lords")

	code, out, errOut = runCLI(t, "events", "--addr", addr, "--page-size", "2", "-o", "json")
	require.Equal(t, exitOK, code, errOut)
	var page api.EventPageResponse
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	assert.Len(t, page.Events, 2)
	assert.Greater(t, page.Total, int64(2))

	code, _, errOut = runCLI(t, "events", "--addr", addr, "--worker", "ghost")
	assert.Equal(t, exitNotFound, code, errOut)

	require.NoError(t, stop())

	for _, st := range d.supervisor.ListProcesses() {
		assert.Equal(t, supervisor.StateStopped, st.State, st.Name)
	}

	code, _, _ = runCLI(t, "status", "--addr", addr, "--timeout", "1s")
	assert.Equal(t, exitUnreachable, code)
}
