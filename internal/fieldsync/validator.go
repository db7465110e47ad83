package fieldsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Validator decides whether a payload may leave draft for the queue.
// Errors are ordered and human readable; the facade surfaces them
// verbatim.
type Validator interface {
	Validate(payload json.RawMessage) (bool, []string)
}

// applicationSchema is the merchant application contract enforced before
// queueing. Cross-field rules a schema cannot express (total ownership)
// live in SchemaValidator.Validate.
const applicationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["applicationId", "agentInfo", "principals", "businessInfo", "tradingInfo", "pricing", "banking"],
	"properties": {
		"applicationId": {"type": "string", "minLength": 1},
		"agentInfo": {
			"type": "object",
			"required": ["name", "email"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"email": {"type": "string", "pattern": "^[^\\s@]+@[^\\s@]+\\.[^\\s@]+$"}
			}
		},
		"principals": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["firstName", "lastName", "email", "phone", "position", "ownershipPercentage"],
				"properties": {
					"firstName": {"type": "string", "minLength": 1},
					"lastName": {"type": "string", "minLength": 1},
					"email": {"type": "string", "pattern": "^[^\\s@]+@[^\\s@]+\\.[^\\s@]+$"},
					"phone": {"type": "string", "minLength": 1},
					"position": {"type": "string", "minLength": 1},
					"ownershipPercentage": {"type": "number", "minimum": 0, "maximum": 100}
				}
			}
		},
		"businessInfo": {
			"type": "object",
			"required": ["legalName", "businessType", "tradingAddress"],
			"properties": {
				"legalName": {"type": "string", "minLength": 1},
				"businessType": {"type": "string", "minLength": 1},
				"tradingAddress": {
					"type": "object",
					"required": ["line1", "city", "postcode"],
					"properties": {
						"line1": {"type": "string", "minLength": 1},
						"city": {"type": "string", "minLength": 1},
						"postcode": {"type": "string", "pattern": "^[A-Za-z]{1,2}[0-9][A-Za-z0-9]?\\s?[0-9][A-Za-z]{2}$"}
					}
				}
			}
		},
		"tradingInfo": {
			"type": "object",
			"required": ["mccCode", "mccDescription", "projectedAnnualTurnover", "estimatedAverageTransaction"],
			"properties": {
				"mccCode": {"type": "string", "minLength": 1},
				"mccDescription": {"type": "string", "minLength": 1},
				"projectedAnnualTurnover": {"type": "number", "exclusiveMinimum": 0},
				"estimatedAverageTransaction": {"type": "number", "exclusiveMinimum": 0}
			}
		},
		"pricing": {
			"type": "object",
			"required": ["consumerDebit", "consumerCredit", "commercialCard", "authorisationFee"],
			"properties": {
				"consumerDebit": {"type": "number", "minimum": 0.25},
				"consumerCredit": {"type": "number", "minimum": 0.43},
				"commercialCard": {"type": "number", "minimum": 1.6},
				"authorisationFee": {"type": "number", "minimum": 0.01}
			}
		},
		"banking": {
			"type": "object",
			"required": ["accountName", "sortCode", "accountNumber"],
			"properties": {
				"accountName": {"type": "string", "minLength": 1},
				"sortCode": {"type": "string", "pattern": "^[0-9]{2}-?[0-9]{2}-?[0-9]{2}$"},
				"accountNumber": {"type": "string", "pattern": "^[0-9]{8}$"}
			}
		}
	}
}`

// SchemaValidator validates merchant application payloads against the
// embedded JSON schema.
type SchemaValidator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

func NewSchemaValidator() (*SchemaValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(applicationSchema))
	if err != nil {
		return nil, fmt.Errorf("parse application schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("application.json", doc); err != nil {
		return nil, fmt.Errorf("register application schema: %w", err)
	}
	schema, err := compiler.Compile("application.json")
	if err != nil {
		return nil, fmt.Errorf("compile application schema: %w", err)
	}
	return &SchemaValidator{
		schema:  schema,
		printer: message.NewPrinter(language.English),
	}, nil
}

func (v *SchemaValidator) Validate(payload json.RawMessage) (bool, []string) {
	if len(payload) == 0 {
		return false, []string{"payload is empty"}
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return false, []string{"payload is not valid JSON: " + err.Error()}
	}

	var details []string
	if err := v.schema.Validate(instance); err != nil {
		var validationErr *jsonschema.ValidationError
		if !errors.As(err, &validationErr) {
			return false, []string{err.Error()}
		}
		details = v.collectLeaves(validationErr, details)
		sort.Strings(details)
	}
	details = append(details, checkOwnershipTotal(instance)...)

	if len(details) > 0 {
		return false, details
	}
	return true, nil
}

func (v *SchemaValidator) collectLeaves(err *jsonschema.ValidationError, details []string) []string {
	if len(err.Causes) == 0 {
		location := "/" + strings.Join(err.InstanceLocation, "/")
		return append(details, fmt.Sprintf("%s: %s", location, err.ErrorKind.LocalizedString(v.printer)))
	}
	for _, cause := range err.Causes {
		details = v.collectLeaves(cause, details)
	}
	return details
}

// checkOwnershipTotal enforces the one rule the schema cannot: when a
// business has multiple principals their ownership must total 100%,
// within floating point tolerance.
func checkOwnershipTotal(instance any) []string {
	root, ok := instance.(map[string]any)
	if !ok {
		return nil
	}
	principals, ok := root["principals"].([]any)
	if !ok || len(principals) <= 1 {
		return nil
	}
	total := 0.0
	for _, p := range principals {
		principal, ok := p.(map[string]any)
		if !ok {
			return nil
		}
		share, ok := toFloat(principal["ownershipPercentage"])
		if !ok {
			return nil
		}
		total += share
	}
	if math.Abs(total-100) > 0.01 {
		return []string{fmt.Sprintf("/principals: total ownership percentage must equal 100%%, got %g", total)}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch typed := v.(type) {
	case float64:
		return typed, true
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case int:
		return float64(typed), true
	default:
		return 0, false
	}
}
