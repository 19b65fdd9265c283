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

package core

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the wire format for date fields in structured records.
const DateLayout = "2006-01-02"

// FieldKind is the expected type of one structured record field.
type FieldKind int

const (
	FieldText FieldKind = iota + 1
	FieldDate
	FieldDecimal
	FieldRef // foreign key into a lookup dimension
)

// FieldSpec describes one required field of a fact table.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Dimension string // set for FieldRef: the lookup dimension it references
}

// tableSpecs lists the required fields per fact table. Optional fields pass
// through validation untouched.
var tableSpecs = map[string][]FieldSpec{
	"informe_general": {
		{Name: "titulo_informe", Kind: FieldText},
		{Name: "fecha_publicacion", Kind: FieldDate},
		{Name: "id_emisor", Kind: FieldRef, Dimension: "emisor"},
		{Name: "id_tipo_informe", Kind: FieldRef, Dimension: "tipo_informe"},
		{Name: "url_fuente", Kind: FieldText},
	},
	"resumen_informe_financiero": {
		{Name: "fecha_corte_informe", Kind: FieldDate},
		{Name: "activos_totales", Kind: FieldDecimal},
		{Name: "pasivos_totales", Kind: FieldDecimal},
		{Name: "patrimonio_neto", Kind: FieldDecimal},
		{Name: "id_moneda", Kind: FieldRef, Dimension: "moneda"},
	},
	"movimiento_diario_bolsa": {
		{Name: "fecha_operacion", Kind: FieldDate},
		{Name: "cantidad_operacion", Kind: FieldDecimal},
		{Name: "precio_operacion", Kind: FieldDecimal},
		{Name: "id_instrumento", Kind: FieldRef, Dimension: "instrumento"},
		{Name: "id_emisor", Kind: FieldRef, Dimension: "emisor"},
		{Name: "id_moneda", Kind: FieldRef, Dimension: "moneda"},
	},
	"dato_macroeconomico": {
		{Name: "indicador_nombre", Kind: FieldText},
		{Name: "fecha_dato", Kind: FieldDate},
		{Name: "valor_numerico", Kind: FieldDecimal},
		{Name: "id_unidad_medida", Kind: FieldRef, Dimension: "unidad_medida"},
		{Name: "id_frecuencia", Kind: FieldRef, Dimension: "frecuencia"},
		{Name: "fuente_dato", Kind: FieldText},
	},
	"licitacion_contrato": {
		{Name: "titulo", Kind: FieldText},
		{Name: "fecha_adjudicacion", Kind: FieldDate},
		{Name: "estado_licitacion", Kind: FieldText},
	},
	"noticia_relevante": {
		{Name: "titulo_noticia", Kind: FieldText},
		{Name: "fecha_publicacion", Kind: FieldDate},
		{Name: "fuente_noticia", Kind: FieldText},
		{Name: "categoria", Kind: FieldText},
	},
}

// KnownTables returns the fact tables drafts may target.
func KnownTables() []string {
	tables := make([]string, 0, len(tableSpecs))
	for name := range tableSpecs {
		tables = append(tables, name)
	}
	return tables
}

// KnownDimensions returns the lookup dimensions referenced by any fact
// table's foreign-key fields.
func KnownDimensions() []string {
	seen := make(map[string]struct{})
	var dims []string
	for _, specs := range tableSpecs {
		for _, spec := range specs {
			if spec.Kind != FieldRef {
				continue
			}
			if _, ok := seen[spec.Dimension]; ok {
				continue
			}
			seen[spec.Dimension] = struct{}{}
			dims = append(dims, spec.Dimension)
		}
	}
	return dims
}

// RequiredFields returns the required field specs for a table.
func RequiredFields(table string) ([]FieldSpec, bool) {
	specs, ok := tableSpecs[table]
	return specs, ok
}

// ValidateDraft validates a record draft before it may enter the dual-store
// writer.
//
// Rules:
//   - the target table must be known
//   - every required field must be present and non-nil
//   - dates and decimals must parse
//   - every foreign-key field must reference a resolved LookupRef
//
// Failures return a *ValidationError; the caller records it and drops the
// draft without aborting the batch.
func ValidateDraft(draft *RecordDraft) error {
	if draft == nil {
		return &ValidationError{Err: errors.New("draft is nil")}
	}

	specs, ok := tableSpecs[draft.TargetTable]
	if !ok {
		return &ValidationError{Table: draft.TargetTable, Err: ErrUnknownTable}
	}

	for _, spec := range specs {
		value, present := draft.Fields[spec.Name]
		if !present || value == nil {
			return &ValidationError{
				Table: draft.TargetTable,
				Field: spec.Name,
				Err:   errors.New("required field missing"),
			}
		}

		switch spec.Kind {
		case FieldDate:
			if _, err := DateValue(value); err != nil {
				return &ValidationError{Table: draft.TargetTable, Field: spec.Name, Err: err}
			}
		case FieldDecimal:
			if _, err := DecimalValue(value); err != nil {
				return &ValidationError{Table: draft.TargetTable, Field: spec.Name, Err: err}
			}
		case FieldRef:
			ref, found := draft.LookupFor(spec.Dimension)
			if !found || ref.ResolvedID <= 0 {
				return &ValidationError{
					Table: draft.TargetTable,
					Field: spec.Name,
					Err:   fmt.Errorf("unresolved lookup dimension %q", spec.Dimension),
				}
			}
		case FieldText:
			if s, isStr := value.(string); isStr && s == "" {
				return &ValidationError{
					Table: draft.TargetTable,
					Field: spec.Name,
					Err:   errors.New("required field empty"),
				}
			}
		}
	}

	return nil
}

// DateValue coerces a field value into a date. Accepts time.Time or a
// string in DateLayout.
func DateValue(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		ts, err := time.Parse(DateLayout, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date %q: %w", v, err)
		}
		return ts, nil
	default:
		return time.Time{}, fmt.Errorf("invalid date value of type %T", value)
	}
}

// DecimalValue coerces a field value into a decimal. Accepts numeric types
// or a parseable string.
func DecimalValue(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid decimal value of type %T", value)
	}
}
