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

package process

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/seatunnel/workerd/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shellSpec(name, script string) *registry.ProcessSpec {
	return &registry.ProcessSpec{
		Name:    name,
		Command: []string{"/bin/sh", "-c", script},
	}
}

func waitDone(t *testing.T, h *Handle) ExitStatus {
	t.Helper()
	select {
	case <-h.Done():
		return h.Exit()
	case <-time.After(5 * time.Second):
		t.Fatalf("process %d did not exit", h.PID)
		return ExitStatus{}
	}
}

func TestSpawnCleanExit(t *testing.T) {
	h, err := Spawn(shellSpec("lords", "exit 0"))
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Greater(t, h.PID, 0)

	status := waitDone(t, h)
	assert.True(t, status.Clean())
	assert.False(t, h.Alive())
	assert.Equal(t, "exit code 0", status.String())
}

func TestSpawnExitCode(t *testing.T) {
	h, err := Spawn(shellSpec("lords", "sleep 0.1; exit 3"))
	require.NoError(t, err)

	status := waitDone(t, h)
	ran := h.Uptime()
	assert.GreaterOrEqual(t, ran, 100*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ran, h.Uptime(), "uptime is frozen after exit")
	assert.False(t, status.Clean())
	assert.Equal(t, 3, status.Code)
	assert.Empty(t, status.Signal)
}

func TestSpawnInvalidCommand(t *testing.T) {
	spec := &registry.ProcessSpec{Name: "skins", Command: []string{"/nonexistent/skins-bin"}}
	h, err := Spawn(spec)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrSpawn)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "skins", spawnErr.Name)

	_, err = Spawn(&registry.ProcessSpec{Name: "empty"})
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestTerminateAndKill(t *testing.T) {
	h, err := Spawn(shellSpec("units", "sleep 30"))
	require.NoError(t, err)
	require.True(t, h.Alive())

	require.NoError(t, h.Terminate())
	status := waitDone(t, h)
	assert.Equal(t, -1, status.Code)
	assert.Equal(t, "terminated", status.Signal)
	assert.Equal(t, "killed by terminated", status.String())

	// Signalling an exited handle is a no-op.
	assert.NoError(t, h.Kill())
}

func TestKillIgnoresTerm(t *testing.T) {
	h, err := Spawn(shellSpec("units", "trap '' TERM; while true; do sleep 1; done"))
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, h.Terminate())
	select {
	case <-h.Done():
		t.Fatal("process exited on SIGTERM despite trap")
	case <-time.After(300 * time.Millisecond):
	}

	require.NoError(t, h.Kill())
	status := waitDone(t, h)
	assert.Equal(t, "killed", status.Signal)
}

func TestSpawnEnvironmentAndLogs(t *testing.T) {
	dir := t.TempDir()
	spec := shellSpec("timestamps", `echo "port=$PORT dir=$(pwd)"; echo oops >&2`)
	spec.WorkingDirectory = dir
	spec.Environment = map[string]string{"PORT": "8005"}
	spec.OutFile = filepath.Join(dir, "logs", "out.log")
	spec.ErrorFile = filepath.Join(dir, "logs", "err.log")

	h, err := Spawn(spec)
	require.NoError(t, err)
	require.True(t, waitDone(t, h).Clean())

	out, err := os.ReadFile(spec.OutFile)
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.True(t, strings.Contains(string(out), "port=8005"), string(out))
	assert.True(t, strings.Contains(string(out), "dir="+resolved) || strings.Contains(string(out), "dir="+dir), string(out))

	errOut, err := os.ReadFile(spec.ErrorFile)
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))
}

func TestMemorySample(t *testing.T) {
	h, err := Spawn(shellSpec("packs", "sleep 30"))
	require.NoError(t, err)
	defer func() {
		_ = h.Kill()
		waitDone(t, h)
	}()

	h.SetMemory(1_200_000_000)
	assert.Equal(t, uint64(1_200_000_000), h.Memory())

	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("memory sampling not supported")
	}
	rss, err := ReadRSS(h.PID)
	require.NoError(t, err)
	assert.Greater(t, rss, uint64(0))
}

func TestReadRSSMissingProcess(t *testing.T) {
	_, err := ReadRSS(1 << 30)
	assert.Error(t, err)
}
