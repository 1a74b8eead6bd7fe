package engine

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai/jsonschema"
)

const defaultLanguage = "Simplified Chinese (简体中文)"

// RecordSchema describes the JSON a provider must return.
func RecordSchema() *jsonschema.Definition {
	str := func(desc string) jsonschema.Definition {
		return jsonschema.Definition{Type: jsonschema.String, Description: desc}
	}
	num := jsonschema.Definition{Type: jsonschema.Number}
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"name":        str("Common name of the substance"),
			"formula":     str("Chemical formula like H2O"),
			"description": str("A fun, kid-friendly explanation of what this molecule is like"),
			"funFact":     str("A surprising or funny fact about this substance"),
			"properties": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"state":        str("State at room temperature"),
					"meltingPoint": str("Approximate melting point, e.g. 0°C"),
				},
				Required:             []string{"state", "meltingPoint"},
				AdditionalProperties: false,
			},
			"atoms": {
				Type:        jsonschema.Array,
				Description: "Atoms with 3D coordinates. Use VSEPR theory to approximate geometry. Center the molecule around 0,0,0.",
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"element": str("Element symbol, e.g. H, O, C"),
						"x":       num,
						"y":       num,
						"z":       num,
					},
					Required:             []string{"element", "x", "y", "z"},
					AdditionalProperties: false,
				},
			},
			"bonds": {
				Type:        jsonschema.Array,
				Description: "Connections between atoms by index in the atoms array.",
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"source": {Type: jsonschema.Integer, Description: "Index of start atom"},
						"target": {Type: jsonschema.Integer, Description: "Index of end atom"},
					},
					Required:             []string{"source", "target"},
					AdditionalProperties: false,
				},
			},
		},
		Required:             []string{"name", "formula", "description", "funFact", "properties", "atoms", "bonds"},
		AdditionalProperties: false,
	}
}

func systemPrompt(language string) string {
	if language == "" {
		language = defaultLanguage
	}
	return fmt.Sprintf(`You build 3D molecular models for a school chemistry lab.
Target audience: middle school students.
Tone: fun, educational, enthusiastic.

Instructions:
1. Identify the molecule.
2. Provide approximate 3D coordinates (x, y, z) for atoms so the shape is recognizable (water is bent, methane is tetrahedral). Scale coordinates so bonds are roughly 1.0 to 1.5 long.
3. Provide bond connections by atom index.
4. All text content (name, description, funFact, properties) MUST be in %s.
5. The description should be lively, interesting and easy for young students to understand.`, language)
}

func userPrompt(substance string) string {
	return fmt.Sprintf("Create a 3D molecular model for the substance: %q.", substance)
}

// schemaPrompt spells the schema out for providers without structured output.
func schemaPrompt() string {
	data, err := json.MarshalIndent(RecordSchema(), "", "  ")
	if err != nil {
		return ""
	}
	return "Reply with a single JSON object in a ```json fenced block matching this JSON Schema:\n" + string(data)
}
