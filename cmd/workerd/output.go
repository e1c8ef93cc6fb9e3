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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/seatunnel/workerd/internal/api"
	"github.com/seatunnel/workerd/internal/journal"
	"github.com/seatunnel/workerd/internal/registry"
	"github.com/seatunnel/workerd/internal/supervisor"
	"gopkg.in/yaml.v3"
)

// Output formats / 输出格式
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

const none = "-"

func printResults(w io.Writer, format string, results []supervisor.Result) error {
	if format != formatTable {
		return encode(w, format, results)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tRESTARTS\tNOTE")
	for _, res := range results {
		note := res.Status.Reason
		switch {
		case res.Error != "":
			note = res.Error
		case res.AlreadyRunning:
			note = "already running"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			res.Name, stateOf(res.Status), pidOf(res.Status.PID), res.Status.RestartCount, orNone(note))
	}
	return tw.Flush()
}

func printStatuses(w io.Writer, format string, statuses []supervisor.Status) error {
	if format != formatTable {
		if len(statuses) == 1 {
			return encode(w, format, statuses[0])
		}
		return encode(w, format, statuses)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tPORT\tUPTIME\tRESTARTS\tMEMORY\tLIMIT\tREASON")
	for _, st := range statuses {
		port := none
		if st.Port > 0 {
			port = strconv.Itoa(st.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			st.Name,
			stateOf(st),
			pidOf(st.PID),
			port,
			uptime(st),
			st.RestartCount,
			bytesOrNone(st.MemoryBytes),
			bytesOrNone(st.MemoryLimitBytes),
			orNone(reasonOf(st)),
		)
	}
	return tw.Flush()
}

func printEvents(w io.Writer, format string, events []*journal.TransitionEvent) error {
	if format != formatTable {
		return encode(w, format, events)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tFROM\tTO\tEXIT\tREASON")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(ev.CreatedAt), ev.FromState, ev.ToState, exitOf(ev), orNone(ev.Reason))
	}
	return tw.Flush()
}

func printEventPage(w io.Writer, format string, page api.EventPageResponse) error {
	if format != formatTable {
		return encode(w, format, page)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tWORKER\tFROM\tTO\tEXIT\tREASON")
	for _, ev := range page.Events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(ev.CreatedAt), ev.Worker, ev.FromState, ev.ToState, exitOf(ev), orNone(ev.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d, %d of %d entries\n", page.Page, len(page.Events), page.Total)
	return err
}

func printSpecs(w io.Writer, format string, specs []*registry.ProcessSpec) error {
	if format != formatTable {
		return encode(w, format, specs)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPORT\tLIMIT\tRESTART\tAUTOSTART\tCOMMAND")
	for _, spec := range specs {
		port := none
		if spec.Port > 0 {
			port = strconv.Itoa(spec.Port)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			spec.Name,
			port,
			bytesOrNone(spec.MemoryLimitBytes),
			spec.RestartPolicy.Mode,
			spec.AutoStart,
			strings.Join(spec.Command, " "),
		)
	}
	return tw.Flush()
}

func encode(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func exitOf(ev *journal.TransitionEvent) string {
	switch {
	case ev.Signal != "":
		return ev.Signal
	case ev.ExitCode != nil:
		return strconv.Itoa(*ev.ExitCode)
	}
	return none
}

func stateOf(st supervisor.Status) string {
	if st.State == "" {
		return none
	}
	if st.State == supervisor.StateRestartBackoff && !st.NextRestartAt.IsZero() {
		wait := max(time.Until(st.NextRestartAt), 0).Round(time.Millisecond)
		return fmt.Sprintf("%s (%s)", st.State, wait)
	}
	return string(st.State)
}

func reasonOf(st supervisor.Status) string {
	if st.LastError != "" && st.State != supervisor.StateRunning {
		return st.LastError
	}
	return st.Reason
}

func uptime(st supervisor.Status) string {
	if st.UptimeSecond <= 0 {
		return none
	}
	return (time.Duration(st.UptimeSecond * float64(time.Second))).Round(time.Second).String()
}

func pidOf(pid int) string {
	if pid <= 0 {
		return none
	}
	return strconv.Itoa(pid)
}

func bytesOrNone(b uint64) string {
	if b == 0 {
		return none
	}
	return humanize.Bytes(b)
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}
