package enrich

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const scoreSchemaJSON = `{
	"type": "object",
	"required": ["relevance"],
	"properties": {
		"relevance": {
			"type": "integer",
			"minimum": 0,
			"maximum": 100
		}
	}
}`

const enrichmentSchemaJSON = `{
	"type": "object",
	"required": ["category", "sentiment", "signal", "time_to_impact", "entities"],
	"properties": {
		"category": {"type": "string", "minLength": 1},
		"sentiment": {"type": "string", "enum": ["positive", "neutral", "negative", "mixed"]},
		"signal": {"type": "string", "minLength": 1},
		"time_to_impact": {"type": "string", "enum": ["immediate", "short_term", "mid_term", "long_term", "unknown"]},
		"entities": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		}
	}
}`

var (
	scoreSchema      = jsonschema.MustCompileString("score.json", scoreSchemaJSON)
	enrichmentSchema = jsonschema.MustCompileString("enrichment.json", enrichmentSchemaJSON)
)
