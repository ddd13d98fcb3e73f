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

// Package eventsink implements the durability-classified publish/persist
// pipeline: durable events are journaled before they fan out, ephemeral
// events fan out directly.
package eventsink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftagent/weft/internal/event"
	"github.com/weftagent/weft/internal/log"
	"github.com/weftagent/weft/internal/storage"
)

// subscriberBuffer bounds the per-subscriber channel; a slow subscriber is
// dropped from rather than allowed to block the sink.
const subscriberBuffer = 256

// Sink is the process-wide event sink and broadcast fan-out.
type Sink struct {
	journal storage.EventJournal

	mu   sync.RWMutex
	subs map[string]map[chan event.Envelope]struct{} // session_id -> subscriber set
}

// New constructs a Sink over the given journal.
func New(journal storage.EventJournal) *Sink {
	return &Sink{
		journal: journal,
		subs:    make(map[string]map[chan event.Envelope]struct{}),
	}
}

// Subscribe registers a new listener for sessionID. The returned channel is
// closed when ctx is done; callers must drain it to avoid being evicted for
// lag.
func (s *Sink) Subscribe(ctx context.Context, sessionID string) <-chan event.Envelope {
	ch := make(chan event.Envelope, subscriberBuffer)
	s.mu.Lock()
	set, ok := s.subs[sessionID]
	if !ok {
		set = make(map[chan event.Envelope]struct{})
		s.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.unsubscribe(sessionID, ch)
	}()
	return ch
}

func (s *Sink) unsubscribe(sessionID string, ch chan event.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[sessionID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(s.subs, sessionID)
		}
	}
	close(ch)
}

// publish fans env out to every subscriber of env.SessionID. A full
// subscriber channel is dropped from (never blocks the caller) and the
// subscriber is evicted so it re-hydrates from the journal.
func (s *Sink) publish(env event.Envelope) {
	s.mu.RLock()
	set := s.subs[env.SessionID]
	chans := make([]chan event.Envelope, 0, len(set))
	for ch := range set {
		chans = append(chans, ch)
	}
	s.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- env:
		default:
			log.Warn("eventsink: subscriber lagging, evicting",
				zap.String("session_id", env.SessionID))
			s.unsubscribe(env.SessionID, ch)
		}
	}
}

// EmitEvent is the fire-and-forget path: durable events are journaled in a
// background goroutine (errors are logged, never returned to the caller);
// ephemeral events publish immediately.
func (s *Sink) EmitEvent(sessionID string, k event.Kind) {
	env := event.Envelope{SessionID: sessionID, Kind: k, Ts: time.Now()}
	if event.Classify(k) == event.Ephemeral {
		s.publish(env)
		return
	}
	go func() {
		stored, err := s.journal.Append(context.Background(), env)
		if err != nil {
			log.Warn("eventsink: durable event dropped, journal write failed",
				zap.String("session_id", sessionID), zap.Error(err))
			return
		}
		s.publish(stored)
	}()
}

// EmitEventPersisted is the blocking path: the caller must serialize on the
// persistence edge (e.g. a permission reply the client is about to act on).
// It returns the stored envelope, or an error if a durable write failed;
// ephemeral kinds publish immediately and return a Seq-less envelope.
func (s *Sink) EmitEventPersisted(ctx context.Context, sessionID string, k event.Kind) (event.Envelope, error) {
	env := event.Envelope{SessionID: sessionID, Kind: k, Ts: time.Now()}
	if event.Classify(k) == event.Ephemeral {
		s.publish(env)
		return env, nil
	}
	stored, err := s.journal.Append(ctx, env)
	if err != nil {
		log.Warn("eventsink: durable event dropped, journal write failed",
			zap.String("session_id", sessionID), zap.Error(err))
		return event.Envelope{}, err
	}
	s.publish(stored)
	return stored, nil
}

// BusAdapter aggregates every session's envelopes onto a single channel, so
// a subscriber written against a legacy global-bus shape can attach to the
// one sink instead of the sink dual-writing to a separate bus.
type BusAdapter struct {
	sink *Sink
	mu   sync.Mutex
	out  chan event.Envelope
}

// NewBusAdapter wraps sink with a single aggregated channel. Callers should
// call Attach for every session they want mirrored onto All.
func NewBusAdapter(sink *Sink) *BusAdapter {
	return &BusAdapter{sink: sink, out: make(chan event.Envelope, subscriberBuffer)}
}

// Attach mirrors sessionID's envelopes onto the adapter's aggregated
// channel until ctx is done.
func (a *BusAdapter) Attach(ctx context.Context, sessionID string) {
	ch := a.sink.Subscribe(ctx, sessionID)
	go func() {
		for env := range ch {
			select {
			case a.out <- env:
			default:
				log.Warn("eventsink: bus adapter lagging, dropping envelope",
					zap.String("session_id", sessionID))
			}
		}
	}()
}

// All returns the aggregated channel.
func (a *BusAdapter) All() <-chan event.Envelope {
	return a.out
}
