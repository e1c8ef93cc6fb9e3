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

// Package registry holds the immutable table of worker definitions.
// registry 包保存不可变的工作进程定义表。
//
// The registry is loaded once at startup from the workers roster and is
// read-only afterwards. Loading fails with a *ConfigError on duplicate names,
// duplicate ports or malformed entries, before any process is started.
package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/seatunnel/workerd/internal/config"
)

// AllWorkers is the reserved name addressing every worker in control operations.
const AllWorkers = "all"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Registry is the loaded, read-only set of ProcessSpecs.
// Registry 是已加载的只读 ProcessSpec 集合。
type Registry struct {
	specs  []*ProcessSpec
	byName map[string]*ProcessSpec
}

// Load builds a registry from the roster, applying supervisor-wide defaults.
// Load 根据清单构建注册表，并应用监督器级默认值。
func Load(workers []config.WorkerConfig, defaults config.SupervisorConfig) (*Registry, error) {
	r := &Registry{
		specs:  make([]*ProcessSpec, 0, len(workers)),
		byName: make(map[string]*ProcessSpec, len(workers)),
	}
	ports := make(map[int]string)

	for i, w := range workers {
		spec, err := buildSpec(i, w, defaults)
		if err != nil {
			return nil, err
		}

		if _, exists := r.byName[spec.Name]; exists {
			return nil, configErr(i, spec.Name, "name", ErrDuplicateName)
		}
		if spec.Port != 0 {
			if owner, taken := ports[spec.Port]; taken {
				return nil, configErr(i, spec.Name, "port",
					fmt.Errorf("%w: %d already used by %s", ErrDuplicatePort, spec.Port, owner))
			}
			ports[spec.Port] = spec.Name
		}

		r.specs = append(r.specs, spec)
		r.byName[spec.Name] = spec
	}

	return r, nil
}

// Lookup returns the ProcessSpec registered under name.
// Lookup 返回指定名称的定义。
func (r *Registry) Lookup(name string) (*ProcessSpec, error) {
	spec, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return spec, nil
}

// Names returns worker names in roster order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	return names
}

// Specs returns the specs in roster order.
func (r *Registry) Specs() []*ProcessSpec {
	out := make([]*ProcessSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	return len(r.specs)
}

func buildSpec(i int, w config.WorkerConfig, defaults config.SupervisorConfig) (*ProcessSpec, error) {
	name := strings.TrimSpace(w.Name)
	switch {
	case name == "":
		return nil, configErr(i, "", "name", fmt.Errorf("%w: name is required", ErrInvalidSpec))
	case name == AllWorkers:
		return nil, configErr(i, name, "name", fmt.Errorf("%w: %q is reserved", ErrInvalidSpec, AllWorkers))
	case !validName.MatchString(name):
		return nil, configErr(i, name, "name", fmt.Errorf("%w: %q contains invalid characters", ErrInvalidSpec, name))
	}

	command, err := buildCommand(w)
	if err != nil {
		return nil, configErr(i, name, "command", err)
	}

	if w.Port < 0 || w.Port > 65535 {
		return nil, configErr(i, name, "port", fmt.Errorf("%w: port %d out of range", ErrInvalidSpec, w.Port))
	}

	var memoryLimit uint64
	if w.MemoryLimit != "" {
		memoryLimit, err = humanize.ParseBytes(w.MemoryLimit)
		if err != nil {
			return nil, configErr(i, name, "memory_limit", fmt.Errorf("%w: %v", ErrInvalidSpec, err))
		}
	}

	policy, err := buildPolicy(w, defaults.DefaultRestartPolicy)
	if err != nil {
		return nil, configErr(i, name, "restart_policy", err)
	}

	if w.StopTimeout < 0 {
		return nil, configErr(i, name, "stop_timeout", fmt.Errorf("%w: must not be negative", ErrInvalidSpec))
	}

	env, err := buildEnvironment(w)
	if err != nil {
		return nil, configErr(i, name, "env_file", err)
	}

	autoStart := true
	if w.AutoStart != nil {
		autoStart = *w.AutoStart
	}

	return &ProcessSpec{
		Name:             name,
		Command:          command,
		WorkingDirectory: w.WorkingDirectory,
		Environment:      env,
		Port:             w.Port,
		MemoryLimitBytes: memoryLimit,
		RestartPolicy:    policy,
		StopTimeout:      w.StopTimeout,
		OutFile:          logPath(w.OutFile, w.WorkingDirectory, defaults.LogDir, name+"-out.log"),
		ErrorFile:        logPath(w.ErrorFile, w.WorkingDirectory, defaults.LogDir, name+"-error.log"),
		AutoStart:        autoStart,
	}, nil
}

// buildCommand accepts either a command line or the interpreter/script form.
func buildCommand(w config.WorkerConfig) ([]string, error) {
	if w.Command != "" && w.Script != "" {
		return nil, fmt.Errorf("%w: command and script are mutually exclusive", ErrInvalidSpec)
	}

	var argv []string
	if w.Command != "" {
		parts, err := shlex.Split(w.Command)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		argv = parts
	} else if w.Script != "" {
		if w.Interpreter != "" {
			argv = append(argv, w.Interpreter)
		}
		argv = append(argv, w.Script)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: command or script is required", ErrInvalidSpec)
	}
	return append(argv, w.Args...), nil
}

func buildPolicy(w config.WorkerConfig, def config.RestartPolicyConfig) (RestartPolicy, error) {
	raw := def
	if w.AutoRestart != nil {
		if *w.AutoRestart {
			raw.Mode = string(RestartAlways)
		} else {
			raw.Mode = string(RestartNever)
		}
	}
	// Zero in the supervisor default means unset; the worker's own
	// restart_policy is applied afterwards, so its explicit zeros stick.
	if raw.Mode == "" {
		raw.Mode = config.DefaultRestartMode
	}
	if raw.BaseBackoff == 0 {
		raw.BaseBackoff = config.DefaultBaseBackoff
	}
	if raw.MaxBackoff == 0 {
		raw.MaxBackoff = config.DefaultMaxBackoff
	}
	if raw.ResetAfter == 0 {
		raw.ResetAfter = config.DefaultResetAfter
	}

	if o := w.RestartPolicy; o != nil {
		if o.Mode != "" {
			raw.Mode = o.Mode
		}
		if o.BaseBackoff != nil {
			raw.BaseBackoff = *o.BaseBackoff
		}
		if o.MaxBackoff != nil {
			raw.MaxBackoff = *o.MaxBackoff
		}
		if o.ResetAfter != nil {
			raw.ResetAfter = *o.ResetAfter
		}
		if o.MaxRestarts != nil {
			raw.MaxRestarts = *o.MaxRestarts
		}
	}

	mode, err := ParseRestartMode(raw.Mode)
	if err != nil {
		return RestartPolicy{}, err
	}
	switch {
	case raw.BaseBackoff < 0 || raw.MaxBackoff < 0 || raw.ResetAfter < 0:
		return RestartPolicy{}, fmt.Errorf("%w: backoff durations must not be negative", ErrInvalidSpec)
	case raw.MaxBackoff < raw.BaseBackoff:
		return RestartPolicy{}, fmt.Errorf("%w: max_backoff %s is below base_backoff %s", ErrInvalidSpec, raw.MaxBackoff, raw.BaseBackoff)
	case raw.MaxRestarts < 0:
		return RestartPolicy{}, fmt.Errorf("%w: max_restarts must not be negative", ErrInvalidSpec)
	}

	return RestartPolicy{
		Mode:        mode,
		BaseBackoff: raw.BaseBackoff,
		MaxBackoff:  raw.MaxBackoff,
		ResetAfter:  raw.ResetAfter,
		MaxRestarts: raw.MaxRestarts,
	}, nil
}

// buildEnvironment merges env_file, the explicit environment and PORT.
// Explicit entries win over the file; PORT is only injected when neither sets it.
func buildEnvironment(w config.WorkerConfig) (map[string]string, error) {
	env := make(map[string]string)

	if w.EnvFile != "" {
		path := w.EnvFile
		if !filepath.IsAbs(path) && w.WorkingDirectory != "" {
			path = filepath.Join(w.WorkingDirectory, path)
		}
		fromFile, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
		}
		for k, v := range fromFile {
			env[k] = v
		}
	}

	for k, v := range w.Environment {
		if k == "" {
			return nil, errors.Join(ErrInvalidSpec, errors.New("empty environment variable name"))
		}
		env[k] = v
	}

	if _, ok := env["PORT"]; !ok && w.Port > 0 {
		env["PORT"] = fmt.Sprint(w.Port)
	}
	return env, nil
}

func logPath(explicit, workDir, logDir, fallback string) string {
	path := explicit
	if path == "" {
		if logDir == "" {
			return ""
		}
		path = filepath.Join(logDir, fallback)
	}
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}
	return path
}
