// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mapping

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/poiesic/finpipe/core"
)

// JSONHandler maps structured JSON payloads: a single object or an array of
// objects, each becoming one draft for the document's target table.
type JSONHandler struct{}

var _ Handler = (*JSONHandler)(nil)

// NewJSONHandler creates a JSON mapping handler.
func NewJSONHandler() *JSONHandler {
	return &JSONHandler{}
}

func (h *JSONHandler) Map(ctx context.Context, doc *core.ExtractedDocument) ([]*core.RecordDraft, error) {
	objects, err := decodeObjects(doc.RawContent)
	if err != nil {
		return nil, &core.ValidationError{
			Table: doc.TargetTable,
			Err:   fmt.Errorf("malformed JSON payload: %w", err),
		}
	}

	drafts := make([]*core.RecordDraft, 0, len(objects))
	for _, obj := range objects {
		drafts = append(drafts, &core.RecordDraft{
			TargetTable: doc.TargetTable,
			Fields:      pickFields(doc.TargetTable, obj),
		})
	}
	return drafts, nil
}

func decodeObjects(raw string) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return arr, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, err
	}
	return []map[string]any{obj}, nil
}

// pickFields keeps only the columns the target table knows. Foreign-key
// fields accept the natural key under either the column name or the bare
// dimension name.
func pickFields(table string, obj map[string]any) map[string]any {
	fields := make(map[string]any)
	specs, ok := core.RequiredFields(table)
	if !ok {
		return fields
	}
	for _, spec := range specs {
		if value, present := obj[spec.Name]; present {
			fields[spec.Name] = value
			continue
		}
		if spec.Kind == core.FieldRef {
			if value, present := obj[spec.Dimension]; present {
				fields[spec.Name] = value
			}
		}
	}
	if value, present := obj["contenido"]; present {
		fields["contenido"] = value
	}
	return fields
}
