package events

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaURL = "charter://schemas/envelope.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event", "eventId", "timestamp", "data"],
  "properties": {
    "event": {"type": "string", "minLength": 1},
    "eventId": {"type": "string", "minLength": 1},
    "timestamp": {"type": "string", "minLength": 1},
    "apiVersion": {"type": "string"},
    "data": {"type": "object"}
  }
}`

const sellerSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "companyName": {"type": "string"},
    "email": {"type": "string"}
  }
}`

const quoteSchema = `{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "status": {"type": "string"},
    "notes": {"type": "string"},
    "price": {
      "type": "object",
      "properties": {
        "currency": {"type": "string"},
        "base": {"type": "number", "minimum": 0},
        "taxes": {"type": "number", "minimum": 0},
        "fees": {"type": "number", "minimum": 0},
        "total": {"type": "number", "minimum": 0}
      }
    },
    "seller": ` + sellerSchema + `
  }
}`

// dataSchemas validate the data object of kinds that carry structured content.
var dataSchemas = map[string]string{
	KindTripRequestSellerResponse: `{
  "type": "object",
  "required": ["quote"],
  "properties": {
    "quote": ` + quoteSchema + `,
    "seller": ` + sellerSchema + `
  }
}`,
	KindQuotes: `{
  "type": "object",
  "required": ["quotes"],
  "properties": {
    "quotes": {"type": "array", "items": ` + quoteSchema + `}
  }
}`,
	KindQuotedTrips: `{
  "type": "object",
  "properties": {
    "quotedCount": {"type": "integer", "minimum": 0},
    "quotes": {"type": "array"}
  }
}`,
	KindTripChatSeller: `{
  "type": "object",
  "required": ["message", "seller"],
  "properties": {
    "seller": ` + sellerSchema + `,
    "message": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "content": {"type": "string"},
        "parentId": {"type": "string"},
        "richContent": {"type": "object"}
      }
    }
  }
}`,
	KindTripChatInternal: `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {
      "type": "object",
      "required": ["id", "sender"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "content": {"type": "string"},
        "parentId": {"type": "string"},
        "richContent": {"type": "object"},
        "sender": {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"enum": ["agent", "assistant", "system"]},
            "id": {"type": "string"}
          }
        }
      }
    }
  }
}`,
	KindTripRequestMine:  statusDataSchema,
	KindTripRequestBuyer: statusDataSchema,
}

const statusDataSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "minLength": 1},
    "reason": {"type": "string"}
  }
}`

// SchemaValidator checks the outer envelope and, for known kinds, the data
// object against compiled JSON Schemas.
type SchemaValidator struct {
	envelope *jsonschema.Schema
	data     map[string]*jsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := addSchemaResource(compiler, envelopeSchemaURL, envelopeSchema); err != nil {
		return nil, err
	}
	for kind, schema := range dataSchemas {
		if err := addSchemaResource(compiler, dataSchemaURL(kind), schema); err != nil {
			return nil, err
		}
	}

	envelope, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("events: compile envelope schema: %w", err)
	}
	validator := &SchemaValidator{envelope: envelope, data: map[string]*jsonschema.Schema{}}
	for kind := range dataSchemas {
		compiled, err := compiler.Compile(dataSchemaURL(kind))
		if err != nil {
			return nil, fmt.Errorf("events: compile %s data schema: %w", kind, err)
		}
		validator.data[kind] = compiled
	}
	return validator, nil
}

// ValidateEnvelope checks raw JSON against the envelope schema.
func (v *SchemaValidator) ValidateEnvelope(raw []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("events: decode envelope: %w", err)
	}
	if err := v.envelope.Validate(instance); err != nil {
		return fmt.Errorf("events: envelope schema: %w", err)
	}
	return nil
}

// ValidateData checks the data object of kind. Kinds without a schema pass.
func (v *SchemaValidator) ValidateData(kind string, data []byte) error {
	schema, ok := v.data[kind]
	if !ok {
		return nil
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("events: decode %s data: %w", kind, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("events: %s data schema: %w", kind, err)
	}
	return nil
}

func addSchemaResource(compiler *jsonschema.Compiler, url string, schema string) error {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		return fmt.Errorf("events: parse schema %s: %w", url, err)
	}
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("events: add schema %s: %w", url, err)
	}
	return nil
}

func dataSchemaURL(kind string) string {
	return "charter://schemas/data/" + kind + ".json"
}
