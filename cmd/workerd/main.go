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

// Package main is the entry point of workerd, a supervisor for a fixed
// roster of long-running worker processes.
// main 包是 workerd 的入口，workerd 是固定清单长驻工作进程的监督器。
//
// The same binary runs the daemon (workerd run) and acts as its control
// client (workerd start|stop|restart|status).
// 同一个二进制文件既运行守护进程（workerd run），也作为其控制客户端。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/seatunnel/workerd/internal/api"
	"github.com/seatunnel/workerd/internal/config"
	"github.com/seatunnel/workerd/internal/journal"
	"github.com/seatunnel/workerd/internal/logger"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
	"github.com/spf13/cobra"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Process exit codes / 进程退出码
const (
	exitOK          = 0
	exitError       = 1
	exitConfig      = 2
	exitNotFound    = 3
	exitTimeout     = 4
	exitUnreachable = 5
)

// clientSlack keeps the client waiting a little longer than the daemon's own
// request timeout, so the daemon reports the timeout.
const clientSlack = 5 * time.Second

// errConfig marks configuration failures for the exit code.
var errConfig = errors.New("configuration error")

// CLI flags / 命令行参数
var (
	configFile   string
	apiAddr      string
	outputFormat string
	timeout      time.Duration
	eventLimit   int

	eventWorker   string
	eventState    string
	eventSince    time.Duration
	eventPage     int
	eventPageSize int
)

// rootCmd is the root command for the workerd CLI
// rootCmd 是 workerd CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "workerd",
	Short: "workerd - supervisor for long-running worker processes",
	Long: `workerd keeps a fixed roster of worker processes alive.
workerd 维持一组固定的工作进程持续运行。

It restarts crashed workers with exponential backoff, enforces per-worker
memory limits and exposes a control API used by the commands below.
它以指数退避重启崩溃的进程，执行每个进程的内存限制，并提供下列命令使用的控制接口。`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case formatTable, formatJSON, formatYAML:
			return nil
		}
		return fmt.Errorf("unknown output format %q (must be table, json, or yaml)", outputFormat)
	},
}

// runCmd runs the daemon in the foreground
// runCmd 在前台运行守护进程
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor daemon / 运行监督器守护进程",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start <name|all>",
	Short: "Start a worker / 启动工作进程",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], (*api.Client).Start)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name|all>",
	Short: "Stop a worker / 停止工作进程",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], (*api.Client).Stop)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <name|all>",
	Short: "Restart a worker / 重启工作进程",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd, args[0], (*api.Client).Restart)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show worker status / 显示工作进程状态",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStatus,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Search the transition journal / 检索状态迁移日志",
	Args:  cobra.NoArgs,
	RunE:  runEvents,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and print the roster / 验证配置并打印清单",
	Args:  cobra.NoArgs,
	RunE:  runValidate,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "workerd\n")
		fmt.Fprintf(out, "  Version:    %s\n", Version)
		fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		fmt.Fprintf(out, "  Go Version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: $"+config.EnvConfigPath+" or "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "", "daemon control API address (default: api.listen from the config)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatTable, "output format: table, json, yaml")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "client request timeout (default: api.request_timeout plus 5s)")
	statusCmd.Flags().IntVar(&eventLimit, "events", 0, "also show the latest N journal entries of the named worker")

	eventsCmd.Flags().StringVar(&eventWorker, "worker", "", "only transitions of this worker")
	eventsCmd.Flags().StringVar(&eventState, "state", "", "only transitions into this state")
	eventsCmd.Flags().DurationVar(&eventSince, "since", 0, "only transitions newer than this, e.g. 1h")
	eventsCmd.Flags().IntVar(&eventPage, "page", 1, "page number")
	eventsCmd.Flags().IntVar(&eventPageSize, "page-size", 0, "entries per page (default 50)")

	rootCmd.AddCommand(runCmd, startCmd, stopCmd, restartCmd, statusCmd, eventsCmd, validateCmd, versionCmd)
}

// loadConfig loads and validates the daemon configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errConfig, err)
	}
	return cfg, nil
}

// runDaemon is the main entry point for the daemon
// runDaemon 是守护进程的主入口点
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("%w: failed to init logger: %w", errConfig, err)
	}
	defer func() { _ = log.Sync() }()

	d, err := NewDaemon(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// newClient builds a control client from the flags, falling back to the
// config file for the address and timeout.
func newClient() *api.Client {
	addr := apiAddr
	reqTimeout := config.DefaultRequestTimeout
	if cfg, err := config.Load(configFile); err == nil {
		if addr == "" {
			addr = cfg.API.Listen
		}
		if cfg.API.RequestTimeout > 0 {
			reqTimeout = cfg.API.RequestTimeout
		}
	}
	if addr == "" {
		addr = config.DefaultAPIListen
	}

	t := timeout
	if t <= 0 {
		t = reqTimeout + clientSlack
	}
	return api.NewClient(dialAddr(addr), t)
}

// dialAddr turns a listen address into one a client can dial: wildcard and
// empty hosts become loopback.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

type controlFunc func(c *api.Client, ctx context.Context, name string) ([]supervisor.Result, error)

func runControl(cmd *cobra.Command, name string, op controlFunc) error {
	results, err := op(newClient(), cmd.Context(), name)
	if len(results) > 0 {
		if perr := printResults(cmd.OutOrStdout(), outputFormat, results); perr != nil {
			return perr
		}
	}
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		statuses, err := c.List(ctx)
		if err != nil {
			return err
		}
		return printStatuses(out, outputFormat, statuses)
	}

	st, err := c.Status(ctx, args[0])
	if err != nil {
		return err
	}
	if err := printStatuses(out, outputFormat, []supervisor.Status{st}); err != nil {
		return err
	}
	if eventLimit <= 0 {
		return nil
	}

	events, err := c.Events(ctx, args[0], eventLimit)
	if err != nil {
		return err
	}
	if outputFormat == formatTable {
		fmt.Fprintln(out)
	}
	return printEvents(out, outputFormat, events)
}

func runEvents(cmd *cobra.Command, args []string) error {
	filter := journal.EventFilter{
		Worker:   eventWorker,
		ToState:  eventState,
		Page:     eventPage,
		PageSize: eventPageSize,
	}
	if eventSince > 0 {
		since := time.Now().Add(-eventSince)
		filter.StartTime = &since
	}

	page, err := newClient().SearchEvents(cmd.Context(), filter)
	if err != nil {
		return err
	}
	return printEventPage(cmd.OutOrStdout(), outputFormat, page)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := registry.Load(cfg.Workers, cfg.Supervisor)
	if err != nil {
		return fmt.Errorf("%w: %w", errConfig, err)
	}
	return printSpecs(cmd.OutOrStdout(), outputFormat, reg.Specs())
}

// exitCode maps a command error to the process exit code.
// exitCode 将命令错误映射为进程退出码。
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errConfig), errors.Is(err, registry.ErrInvalidSpec):
		return exitConfig
	case errors.Is(err, supervisor.ErrNotFound):
		return exitNotFound
	case errors.Is(err, supervisor.ErrTimeout):
		return exitTimeout
	case errors.Is(err, api.ErrUnreachable):
		return exitUnreachable
	default:
		return exitError
	}
}

func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}
