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

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seatunnel/workerd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func ptr[T any](v T) *T { return &v }

func roster() []config.WorkerConfig {
	return []config.WorkerConfig{
		{
			Name:        "lords",
			Interpreter: "/opt/venv/bin/python3",
			Script:      "lords.py",
			Port:        8001,
			MemoryLimit: "1G",
			AutoRestart: boolPtr(true),
		},
		{
			Name:        "packs",
			Command:     `/opt/venv/bin/python3 packs.py --mode "full sync"`,
			Port:        8002,
			MemoryLimit: "1G",
			Environment: map[string]string{"PYTHONUNBUFFERED": "1"},
		},
	}
}

func TestLoadRoster(t *testing.T) {
	reg, err := Load(roster(), config.SupervisorConfig{LogDir: "/var/log/workerd"})
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"lords", "packs"}, reg.Names())

	lords, err := reg.Lookup("lords")
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/venv/bin/python3", "lords.py"}, lords.Command)
	assert.Equal(t, uint64(1_000_000_000), lords.MemoryLimitBytes)
	assert.Equal(t, RestartAlways, lords.RestartPolicy.Mode)
	assert.Equal(t, "8001", lords.Environment["PORT"])
	assert.Equal(t, "/var/log/workerd/lords-out.log", lords.OutFile)
	assert.Equal(t, "/var/log/workerd/lords-error.log", lords.ErrorFile)
	assert.True(t, lords.AutoStart)

	packs, err := reg.Lookup("packs")
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/venv/bin/python3", "packs.py", "--mode", "full sync"}, packs.Command)
	assert.Equal(t, "1", packs.Environment["PYTHONUNBUFFERED"])
}

func TestLoadDuplicateName(t *testing.T) {
	workers := roster()
	workers[1].Name = "lords"
	workers[1].Port = 9000

	reg, err := Load(workers, config.SupervisorConfig{})
	assert.Nil(t, reg)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 1, cfgErr.Index)
	assert.Equal(t, "name", cfgErr.Field)
	assert.ErrorIs(t, err, ErrDuplicateName)
}

func TestLoadDuplicatePort(t *testing.T) {
	workers := roster()
	workers[1].Port = 8001

	_, err := Load(workers, config.SupervisorConfig{})
	assert.ErrorIs(t, err, ErrDuplicatePort)

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "packs", cfgErr.Name)
	assert.Contains(t, err.Error(), "lords")
}

func TestLoadZeroPortsDoNotCollide(t *testing.T) {
	workers := []config.WorkerConfig{
		{Name: "units", Command: "sleep 60"},
		{Name: "skins", Command: "sleep 60"},
	}
	reg, err := Load(workers, config.SupervisorConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	units, _ := reg.Lookup("units")
	_, hasPort := units.Environment["PORT"]
	assert.False(t, hasPort)
	assert.Empty(t, units.OutFile)
}

func TestLoadInvalidEntries(t *testing.T) {
	tests := []struct {
		name   string
		worker config.WorkerConfig
		field  string
	}{
		{"missing name", config.WorkerConfig{Command: "sleep 1"}, "name"},
		{"reserved name", config.WorkerConfig{Name: "all", Command: "sleep 1"}, "name"},
		{"bad name", config.WorkerConfig{Name: "a b", Command: "sleep 1"}, "name"},
		{"no command", config.WorkerConfig{Name: "x"}, "command"},
		{"command and script", config.WorkerConfig{Name: "x", Command: "a", Script: "b"}, "command"},
		{"unterminated quote", config.WorkerConfig{Name: "x", Command: `sh -c "oops`}, "command"},
		{"port range", config.WorkerConfig{Name: "x", Command: "a", Port: 70000}, "port"},
		{"memory limit", config.WorkerConfig{Name: "x", Command: "a", MemoryLimit: "lots"}, "memory_limit"},
		{"restart mode", config.WorkerConfig{Name: "x", Command: "a", RestartPolicy: &config.RestartPolicyOverride{Mode: "sometimes"}}, "restart_policy"},
		{"backoff order", config.WorkerConfig{Name: "x", Command: "a", RestartPolicy: &config.RestartPolicyOverride{BaseBackoff: ptr(time.Minute), MaxBackoff: ptr(time.Second)}}, "restart_policy"},
		{"missing env file", config.WorkerConfig{Name: "x", Command: "a", EnvFile: "/nonexistent/.env"}, "env_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]config.WorkerConfig{tt.worker}, config.SupervisorConfig{})
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestRestartPolicyMerge(t *testing.T) {
	defaults := config.SupervisorConfig{
		DefaultRestartPolicy: config.RestartPolicyConfig{
			Mode:        "on-failure",
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
			ResetAfter:  time.Minute,
		},
	}
	workers := []config.WorkerConfig{
		{Name: "inherit", Command: "a"},
		{Name: "shorthand", Command: "a", AutoRestart: boolPtr(false)},
		{Name: "override", Command: "a", AutoRestart: boolPtr(false), RestartPolicy: &config.RestartPolicyOverride{Mode: "always", MaxRestarts: ptr(5)}},
	}

	reg, err := Load(workers, defaults)
	require.NoError(t, err)

	inherit, _ := reg.Lookup("inherit")
	assert.Equal(t, RestartPolicy{Mode: RestartOnFailure, BaseBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second, ResetAfter: time.Minute}, inherit.RestartPolicy)

	shorthand, _ := reg.Lookup("shorthand")
	assert.Equal(t, RestartNever, shorthand.RestartPolicy.Mode)

	override, _ := reg.Lookup("override")
	assert.Equal(t, RestartAlways, override.RestartPolicy.Mode)
	assert.Equal(t, 5, override.RestartPolicy.MaxRestarts)
	assert.Equal(t, 2*time.Second, override.RestartPolicy.BaseBackoff)
}

func TestRestartPolicyExplicitZeroOverride(t *testing.T) {
	defaults := config.SupervisorConfig{
		DefaultRestartPolicy: config.RestartPolicyConfig{
			Mode:        "on-failure",
			BaseBackoff: 2 * time.Second,
			MaxBackoff:  30 * time.Second,
			ResetAfter:  time.Minute,
			MaxRestarts: 10,
		},
	}
	workers := []config.WorkerConfig{{
		Name:    "units",
		Command: "a",
		RestartPolicy: &config.RestartPolicyOverride{
			BaseBackoff: ptr(time.Duration(0)),
			ResetAfter:  ptr(time.Duration(0)),
			MaxRestarts: ptr(0),
		},
	}}

	reg, err := Load(workers, defaults)
	require.NoError(t, err)

	units, _ := reg.Lookup("units")
	assert.Equal(t, RestartPolicy{Mode: RestartOnFailure, MaxBackoff: 30 * time.Second}, units.RestartPolicy)
}

func TestRestartPolicyBuiltinDefaults(t *testing.T) {
	reg, err := Load([]config.WorkerConfig{{Name: "timestamps", Command: "a"}}, config.SupervisorConfig{})
	require.NoError(t, err)

	spec, _ := reg.Lookup("timestamps")
	assert.Equal(t, RestartAlways, spec.RestartPolicy.Mode)
	assert.Equal(t, config.DefaultBaseBackoff, spec.RestartPolicy.BaseBackoff)
	assert.Equal(t, config.DefaultMaxBackoff, spec.RestartPolicy.MaxBackoff)
	assert.Equal(t, config.DefaultResetAfter, spec.RestartPolicy.ResetAfter)
}

func TestEnvFileMerge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DB_HOST=db\nMODE=file\nPORT=7000\n"), 0644))

	reg, err := Load([]config.WorkerConfig{{
		Name:             "units",
		Command:          "./units",
		WorkingDirectory: dir,
		EnvFile:          ".env",
		Port:             8003,
		Environment:      map[string]string{"MODE": "explicit"},
		OutFile:          "logs/out.log",
	}}, config.SupervisorConfig{})
	require.NoError(t, err)

	spec, _ := reg.Lookup("units")
	assert.Equal(t, "db", spec.Environment["DB_HOST"])
	assert.Equal(t, "explicit", spec.Environment["MODE"])
	assert.Equal(t, "7000", spec.Environment["PORT"])
	assert.Equal(t, filepath.Join(dir, "logs/out.log"), spec.OutFile)
}

func TestLookupNotFound(t *testing.T) {
	reg, err := Load(roster(), config.SupervisorConfig{})
	require.NoError(t, err)

	_, err = reg.Lookup("skins")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSpecEnvOverridesInherited(t *testing.T) {
	t.Setenv("WORKERD_TEST_INHERITED", "parent")
	t.Setenv("WORKERD_TEST_OVERRIDDEN", "parent")

	spec := &ProcessSpec{Environment: map[string]string{"WORKERD_TEST_OVERRIDDEN": "child"}}
	env := spec.Env()

	assert.Contains(t, env, "WORKERD_TEST_INHERITED=parent")
	assert.Contains(t, env, "WORKERD_TEST_OVERRIDDEN=child")
	assert.NotContains(t, env, "WORKERD_TEST_OVERRIDDEN=parent")
}

func TestAutoStartFlag(t *testing.T) {
	reg, err := Load([]config.WorkerConfig{
		{Name: "a", Command: "x"},
		{Name: "b", Command: "x", AutoStart: boolPtr(false)},
	}, config.SupervisorConfig{})
	require.NoError(t, err)

	a, _ := reg.Lookup("a")
	b, _ := reg.Lookup("b")
	assert.True(t, a.AutoStart)
	assert.False(t, b.AutoStart)
}
