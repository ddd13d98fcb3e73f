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
package jsonrpc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weftagent/weft/internal/mesh/jsonrpc"
)

func TestRequestIDRoundTripsStringAndNumeric(t *testing.T) {
	str := jsonrpc.NewStringRequestID("abc")
	encoded, err := json.Marshal(str)
	require.NoError(t, err)
	require.Equal(t, `"abc"`, string(encoded))

	var decoded jsonrpc.RequestID
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.Equal(t, "abc", decoded.String())

	num := jsonrpc.NewNumericRequestID(42)
	encoded, err = json.Marshal(num)
	require.NoError(t, err)
	require.Equal(t, "42", string(encoded))
}

func TestResponseErrorIsMutuallyExclusiveWithResult(t *testing.T) {
	resp := jsonrpc.Response{
		JSONRPC: jsonrpc.Version,
		ID:      jsonrpc.NewStringRequestID("1"),
		Error:   jsonrpc.NewError(jsonrpc.MethodNotFound, "nope", nil),
	}
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	require.Contains(t, string(encoded), `"error"`)
	require.NotContains(t, string(encoded), `"result"`)
}

func TestErrorMessageIncludesData(t *testing.T) {
	e := jsonrpc.NewError(jsonrpc.InvalidParams, "bad", map[string]string{"field": "x"})
	require.Contains(t, e.Error(), "bad")
	require.Contains(t, e.Error(), "field")
}
