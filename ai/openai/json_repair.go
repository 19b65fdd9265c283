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

package openai

import "strings"

// repairJSON attempts to fix common JSON formatting issues from LLM
// responses: markdown code fences, missing opening quotes before keys, and
// trailing commas before a closing brace.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	i := 0
	for i < len(in) {
		ch := in[i]

		// Trailing comma before a closing brace: drop the comma.
		if ch == ',' {
			j := i + 1
			for j < len(in) && isSpaceRune(in[j]) {
				j++
			}
			if j < len(in) && in[j] == '}' {
				i++
				continue
			}
		}

		// After { or , look for unquoted keys like `titulo": ...`
		if ch == '{' || ch == ',' {
			out = append(out, ch)
			i++
			for i < len(in) && isSpaceRune(in[i]) {
				out = append(out, in[i])
				i++
			}
			if i < len(in) && in[i] != '"' && isKeyRune(in[i]) {
				keyStart := i
				for i < len(in) && isKeyRune(in[i]) {
					i++
				}
				// Missing opening quote if the key is followed by ":
				if i+1 < len(in) && in[i] == '"' && in[i+1] == ':' {
					out = append(out, '"')
				}
				out = append(out, in[keyStart:i]...)
			}
			continue
		}

		out = append(out, ch)
		i++
	}

	return string(out)
}

// isKeyRune returns true for runes that may appear in an unquoted JSON key.
func isKeyRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
