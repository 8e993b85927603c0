package services

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

func stringProp() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func objectProp() map[string]any {
	return map[string]any{"type": "object"}
}

func integerProp(minimum, maximum int) map[string]any {
	return map[string]any{"type": "integer", "minimum": minimum, "maximum": maximum}
}

func enumProp(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

// variantSchema describes a tagged object: "type" plus the variant fields, nothing else.
func variantSchema(tag string, required []string, props map[string]any) map[string]any {
	properties := map[string]any{
		"type": map[string]any{"const": tag},
	}

	for name, prop := range props {
		properties[name] = prop
	}

	return map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           properties,
		"required":             append([]string{"type"}, required...),
		"additionalProperties": false,
	}
}

func triggerSchemaDocuments() map[models.TriggerKind]map[string]any {
	return map[models.TriggerKind]map[string]any{
		models.TriggerKindSchedule: variantSchema(string(models.TriggerKindSchedule), []string{"recurrence", "at_time"}, map[string]any{
			"recurrence":   enumProp("daily", "weekly", "monthly", "yearly"),
			"at_time":      map[string]any{"type": "string", "pattern": `^([01]\d|2[0-3]):[0-5]\d$`},
			"weekday":      enumProp("sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"),
			"day_of_month": integerProp(1, 31),
			"month":        integerProp(1, 12),
			"timezone":     map[string]any{"type": "string"},
		}),
		models.TriggerKindEvent: variantSchema(string(models.TriggerKindEvent), []string{"event_name"}, map[string]any{
			"event_name": stringProp(),
		}),
		models.TriggerKindStatusChange: variantSchema(string(models.TriggerKindStatusChange), []string{"entity_type", "to_status"}, map[string]any{
			"entity_type": stringProp(),
			"from_status": map[string]any{"type": "string"},
			"to_status":   stringProp(),
		}),
		models.TriggerKindDateBased: variantSchema(string(models.TriggerKindDateBased), []string{"entity_type", "field", "days_offset", "direction"}, map[string]any{
			"entity_type": stringProp(),
			"field":       stringProp(),
			"days_offset": integerProp(0, 366),
			"direction":   enumProp("before", "after"),
		}),
		models.TriggerKindManual: variantSchema(string(models.TriggerKindManual), nil, nil),
	}
}

func actionSchemaDocuments() map[models.ActionType]map[string]any {
	action := func(actionType models.ActionType, required []string, props map[string]any) map[string]any {
		all := map[string]any{
			"critical": map[string]any{"type": "boolean"},
			"parallel": map[string]any{"type": "boolean"},
		}

		for name, prop := range props {
			all[name] = prop
		}

		return variantSchema(string(actionType), required, all)
	}

	return map[models.ActionType]map[string]any{
		models.ActionTypeSendEmail: action(models.ActionTypeSendEmail, []string{"to", "template"}, map[string]any{
			"to":       stringProp(),
			"template": stringProp(),
			"vars":     objectProp(),
		}),
		models.ActionTypeSendSMS: action(models.ActionTypeSendSMS, []string{"to", "message"}, map[string]any{
			"to":      stringProp(),
			"message": stringProp(),
		}),
		models.ActionTypeCreateTask: action(models.ActionTypeCreateTask, []string{"assignee"}, map[string]any{
			"assignee":    stringProp(),
			"title":       map[string]any{"type": "string"},
			"due_in_days": integerProp(0, 3650),
		}),
		models.ActionTypeUpdateRecord: action(models.ActionTypeUpdateRecord, []string{"entity_type", "id", "patch"}, map[string]any{
			"entity_type": stringProp(),
			"id":          stringProp(),
			"patch":       map[string]any{"type": "object", "minProperties": 1},
		}),
		models.ActionTypeGenerateDocument: action(models.ActionTypeGenerateDocument, []string{"template"}, map[string]any{
			"template": stringProp(),
			"vars":     objectProp(),
		}),
		models.ActionTypeSendNotification: action(models.ActionTypeSendNotification, []string{"recipient_id"}, map[string]any{
			"recipient_id": stringProp(),
			"payload":      objectProp(),
		}),
		models.ActionTypeCallWebhook: action(models.ActionTypeCallWebhook, []string{"url"}, map[string]any{
			"url":     stringProp(),
			"payload": objectProp(),
		}),
		models.ActionTypeUpdateStatus: action(models.ActionTypeUpdateStatus, []string{"entity_type", "id", "status"}, map[string]any{
			"entity_type": stringProp(),
			"id":          stringProp(),
			"status":      stringProp(),
		}),
	}
}

type schemaSet struct {
	triggers map[models.TriggerKind]*gojsonschema.Schema
	actions  map[models.ActionType]*gojsonschema.Schema
}

var (
	schemasOnce sync.Once
	schemas     schemaSet
	schemasErr  error
)

func loadSchemas() (schemaSet, error) {
	schemasOnce.Do(func() {
		schemas = schemaSet{
			triggers: make(map[models.TriggerKind]*gojsonschema.Schema),
			actions:  make(map[models.ActionType]*gojsonschema.Schema),
		}

		for kind, document := range triggerSchemaDocuments() {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
			if err != nil {
				schemasErr = fmt.Errorf("trigger %s schema: %w", kind, err)

				return
			}

			schemas.triggers[kind] = schema
		}

		for actionType, document := range actionSchemaDocuments() {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(document))
			if err != nil {
				schemasErr = fmt.Errorf("action %s schema: %w", actionType, err)

				return
			}

			schemas.actions[actionType] = schema
		}
	})

	return schemas, schemasErr
}

// TriggerSchema returns the JSON schema document of a trigger variant.
func TriggerSchema(kind models.TriggerKind) (map[string]any, bool) {
	document, ok := triggerSchemaDocuments()[kind]

	return document, ok
}

// ActionSchema returns the JSON schema document of an action variant.
func ActionSchema(actionType models.ActionType) (map[string]any, bool) {
	document, ok := actionSchemaDocuments()[actionType]

	return document, ok
}

// validateDocument checks raw against schema and reports each violation under field.
func validateDocument(schema *gojsonschema.Schema, raw []byte, field string, verr *ValidationError) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		verr.add(field, "is not valid JSON: %v", err)

		return
	}

	for _, desc := range result.Errors() {
		name := field
		if path := desc.Field(); path != "" && path != "(root)" {
			name = field + "." + strings.TrimPrefix(path, "(root).")
		}

		verr.add(name, "%s", desc.Description())
	}
}
