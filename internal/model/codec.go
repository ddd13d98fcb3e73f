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
package model

import (
	"encoding/json"
	"fmt"
)

// wirePart is the normative on-wire shape for MessagePart: a tag field
// "type" with values text | tool_use | tool_result | snapshot | image | pdf
// | image_url.
type wirePart struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func partTag(p MessagePart) (string, error) {
	switch p.(type) {
	case TextPart:
		return "text", nil
	case ToolUsePart:
		return "tool_use", nil
	case ToolResultPart:
		return "tool_result", nil
	case SnapshotPart:
		return "snapshot", nil
	case ImagePart:
		return "image", nil
	case PdfPart:
		return "pdf", nil
	case ImageURLPart:
		return "image_url", nil
	default:
		return "", fmt.Errorf("model: no wire tag for %T", p)
	}
}

// EncodeParts renders an ordered MessagePart sequence as the JSON array
// stored in the messages.parts_json column.
func EncodeParts(parts []MessagePart) (string, error) {
	out := make([]wirePart, 0, len(parts))
	for _, p := range parts {
		tag, err := partTag(p)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return "", fmt.Errorf("model: marshal %s part: %w", tag, err)
		}
		out = append(out, wirePart{Type: tag, Data: data})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeParts parses the parts_json column back into MessagePart values, in
// order.
func DecodeParts(s string) ([]MessagePart, error) {
	var wire []wirePart
	if err := json.Unmarshal([]byte(s), &wire); err != nil {
		return nil, fmt.Errorf("model: unmarshal parts: %w", err)
	}
	parts := make([]MessagePart, 0, len(wire))
	for _, w := range wire {
		var p MessagePart
		switch w.Type {
		case "text":
			var v TextPart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "tool_use":
			var v ToolUsePart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "tool_result":
			var v ToolResultPart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "snapshot":
			var v SnapshotPart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "image":
			var v ImagePart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "pdf":
			var v PdfPart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		case "image_url":
			var v ImageURLPart
			if err := json.Unmarshal(w.Data, &v); err != nil {
				return nil, err
			}
			p = v
		default:
			return nil, fmt.Errorf("model: unknown part tag %q", w.Type)
		}
		parts = append(parts, p)
	}
	return parts, nil
}
