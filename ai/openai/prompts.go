package openai

import (
	"fmt"
	"strings"

	"github.com/poiesic/finpipe/core"
)

const extractionPromptTemplate = `Extract structured field values from the given document text and return them as JSON.

The document belongs to the table "%s". Fill as many of these fields as the text supports:
%s

Output ONLY a single flat JSON object mapping field names to string values. Do not include any preamble,
explanation, greeting, or acknowledgment. Start your response directly with the opening brace { and end
with the closing brace }.

Rules:
- Dates must be formatted as YYYY-MM-DD.
- Numeric amounts must be plain decimal strings without thousands separators or currency symbols.
- Omit any field the text does not support; never invent values.
- Issuer names, currency codes and report types must be copied verbatim from the text.
- The JSON must parse without errors; no trailing commas, no nested objects, no extra keys.

Example:
Input: "Banco Continental publicó su informe anual el 31 de marzo de 2024. Activos totales: Gs. 1.500.000 millones."
Output:
{
  "titulo_informe": "Informe Anual Banco Continental",
  "fecha_publicacion": "2024-03-31",
  "emisor": "Banco Continental",
  "activos_totales": "1500000000000"
}`

// buildExtractionPrompt creates the system prompt for one target table,
// embedding its known field names so the model stays inside the schema.
func buildExtractionPrompt(schemaHint string) string {
	var fields []string
	if specs, ok := core.RequiredFields(schemaHint); ok {
		for _, spec := range specs {
			fields = append(fields, "- "+spec.Name)
			if spec.Kind == core.FieldRef {
				// The model cannot know surrogate ids; ask for the natural key.
				fields[len(fields)-1] += fmt.Sprintf(" (give the %s name as text under the key %q)",
					spec.Dimension, spec.Dimension)
			}
		}
	}
	if len(fields) == 0 {
		fields = []string{"- any field the text clearly states"}
	}
	return fmt.Sprintf(extractionPromptTemplate, schemaHint, strings.Join(fields, "\n"))
}
