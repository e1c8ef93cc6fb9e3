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

package journal

import (
	"context"
	"testing"
	"time"

	"github.com/seatunnel/workerd/internal/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transition(worker string, from, to supervisor.State) supervisor.Transition {
	return supervisor.Transition{Worker: worker, From: from, To: to, Reason: "test", At: time.Now()}
}

func TestRecorderFlushOnStop(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewRecorder(repo, 0, nil)
	rec.SetFlushInterval(time.Hour)
	rec.Start(context.Background())

	rec.OnTransition(transition("lords", supervisor.StateStopped, supervisor.StateStarting))
	rec.OnTransition(transition("lords", supervisor.StateStarting, supervisor.StateRunning))
	assert.Equal(t, 2, rec.Pending())

	rec.Stop()
	assert.Equal(t, 0, rec.Pending())

	events, err := repo.ListByWorker(context.Background(), "lords", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "running", events[0].ToState)
}

func TestRecorderPeriodicFlush(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewRecorder(repo, 0, nil)
	rec.SetFlushInterval(20 * time.Millisecond)
	rec.Start(context.Background())
	defer rec.Stop()

	rec.OnTransition(transition("packs", supervisor.StateRunning, supervisor.StateCrashed))

	assert.Eventually(t, func() bool {
		events, err := repo.ListByWorker(context.Background(), "packs", 0)
		return err == nil && len(events) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorderKeepsEventsOnWriteFailure(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	rec := NewRecorder(repo, 0, nil)
	rec.OnTransition(transition("units", supervisor.StateRunning, supervisor.StateStopping))

	// Closing the database makes every write fail.
	cleanup()
	rec.Flush(context.Background())
	assert.Equal(t, 1, rec.Pending())
}

func TestRecorderCacheDropsOldest(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewRecorder(repo, 0, nil)
	rec.cacheSize = 3
	for _, w := range []string{"a", "b", "c", "d"} {
		rec.OnTransition(transition(w, supervisor.StateStopped, supervisor.StateStarting))
	}
	assert.Equal(t, 3, rec.Pending())

	rec.Flush(context.Background())
	a, _ := repo.ListByWorker(context.Background(), "a", 0)
	d, _ := repo.ListByWorker(context.Background(), "d", 0)
	assert.Empty(t, a)
	assert.Len(t, d, 1)
}

func TestRecorderPrunesOnStart(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &TransitionEvent{Worker: "skins", ToState: "stopped", CreatedAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, repo.Create(ctx, &TransitionEvent{Worker: "skins", ToState: "running", CreatedAt: time.Now()}))

	rec := NewRecorder(repo, 24*time.Hour, nil)
	rec.Start(ctx)
	rec.Stop()

	events, err := repo.ListByWorker(ctx, "skins", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "running", events[0].ToState)
}
