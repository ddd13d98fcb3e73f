// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package eventsink_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/eventsink"
	"github.com/weftagent/weft/internal/storage/sqlite"
)

func newSink(t *testing.T) *eventsink.Sink {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return eventsink.New(db.Journal())
}

func TestDurableEventIsJournaledBeforePublish(t *testing.T) {
	sink := newSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sink.Subscribe(ctx, "s1")

	env, err := sink.EmitEventPersisted(context.Background(), "s1", event.SessionCreated{PublicID: "s1"})
	require.NoError(t, err)
	require.Equal(t, int64(0), env.Seq)

	select {
	case got := <-ch:
		require.Equal(t, event.SessionCreated{PublicID: "s1"}, got.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for durable event")
	}
}

func TestEphemeralEventIsNotJournaled(t *testing.T) {
	sink := newSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sink.Subscribe(ctx, "s1")

	sink.EmitEvent("s1", event.ToolCallStart{ID: "c1"})

	select {
	case got := <-ch:
		require.Equal(t, event.ToolCallStart{ID: "c1"}, got.Kind)
		require.Equal(t, int64(0), got.Seq)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ephemeral event")
	}
}
