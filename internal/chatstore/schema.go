package chatstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const messageSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["queryId", "message", "sender", "timestamp", "actionType"],
	"properties": {
		"id": {"type": "string"},
		"queryId": {"type": "string", "minLength": 1},
		"originalQueryId": {"type": "string"},
		"message": {"type": "string"},
		"responseText": {"type": "string"},
		"sender": {"type": "string", "minLength": 1},
		"senderRole": {"type": "string"},
		"team": {"type": "string"},
		"timestamp": {"type": "string", "format": "date-time"},
		"isSystemMessage": {"type": "boolean"},
		"actionType": {"type": "string", "minLength": 1}
	},
	"additionalProperties": false
}`

var (
	messageSchemaOnce sync.Once
	messageSchema     *jsonschema.Schema
	messageSchemaErr  error
)

func compiledMessageSchema() (*jsonschema.Schema, error) {
	messageSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(messageSchemaJSON))
		if err != nil {
			messageSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("chat-message.json", doc); err != nil {
			messageSchemaErr = err
			return
		}
		messageSchema, messageSchemaErr = compiler.Compile("chat-message.json")
	})
	return messageSchema, messageSchemaErr
}

// ValidateMessage checks a message against the persisted-record schema
// before it reaches a backend. Backends call this on every write.
func ValidateMessage(msg Message) error {
	schema, err := compiledMessageSchema()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		validationFailures.Inc()
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
