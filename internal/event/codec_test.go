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
package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/event"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []event.Kind{
		event.SessionCreated{PublicID: "s1", Name: "n", Cwd: "/tmp"},
		event.ToolCallEnd{ID: "c1", Name: "echo", IsError: true, Result: "boom"},
		event.LlmRequestEnd{ToolCalls: 2, FinishReason: "Stop"},
	}
	for _, k := range cases {
		s, err := event.EncodeKind(k)
		require.NoError(t, err)
		got, err := event.DecodeKind(s)
		require.NoError(t, err)
		require.Equal(t, k, got)
	}
}

func TestDecodeUnknownTagErrors(t *testing.T) {
	_, err := event.DecodeKind(`{"type":"not_a_real_kind","data":{}}`)
	require.Error(t, err)
}
