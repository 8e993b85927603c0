package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType identifies an action variant.
type ActionType string

const (
	ActionTypeSendEmail        ActionType = "sendEmail"
	ActionTypeSendSMS          ActionType = "sendSMS"
	ActionTypeCreateTask       ActionType = "createTask"
	ActionTypeUpdateRecord     ActionType = "updateRecord"
	ActionTypeGenerateDocument ActionType = "generateDocument"
	ActionTypeSendNotification ActionType = "sendNotification"
	ActionTypeCallWebhook      ActionType = "callWebhook"
	ActionTypeUpdateStatus     ActionType = "updateStatus"
)

// ActionTypes lists every action variant.
var ActionTypes = []ActionType{
	ActionTypeSendEmail,
	ActionTypeSendSMS,
	ActionTypeCreateTask,
	ActionTypeUpdateRecord,
	ActionTypeGenerateDocument,
	ActionTypeSendNotification,
	ActionTypeCallWebhook,
	ActionTypeUpdateStatus,
}

// ErrUnknownActionType is returned when an action type tag names no known variant.
var ErrUnknownActionType = errors.New("unknown action type")

// ActionSpec is the closed set of side effects a workflow can perform.
type ActionSpec interface {
	Type() ActionType
	isActionSpec()
}

type SendEmailAction struct {
	To       string         `json:"to"             validate:"required"`
	Template string         `json:"template"       validate:"required"`
	Vars     map[string]any `json:"vars,omitempty"`
}

type SendSMSAction struct {
	To      string `json:"to"      validate:"required"`
	Message string `json:"message" validate:"required"`
}

type CreateTaskAction struct {
	Assignee  string `json:"assignee"        validate:"required"`
	Title     string `json:"title,omitempty"`
	DueInDays int    `json:"due_in_days"     validate:"min=0"`
}

type UpdateRecordAction struct {
	EntityType string         `json:"entity_type" validate:"required"`
	ID         string         `json:"id"          validate:"required"`
	Patch      map[string]any `json:"patch"       validate:"required,min=1"`
}

type GenerateDocumentAction struct {
	Template string         `json:"template"       validate:"required"`
	Vars     map[string]any `json:"vars,omitempty"`
}

type SendNotificationAction struct {
	RecipientID string         `json:"recipient_id" validate:"required"`
	Payload     map[string]any `json:"payload"`
}

type CallWebhookAction struct {
	URL     string         `json:"url"     validate:"required"`
	Payload map[string]any `json:"payload"`
}

type UpdateStatusAction struct {
	EntityType string `json:"entity_type" validate:"required"`
	ID         string `json:"id"          validate:"required"`
	Status     string `json:"status"      validate:"required"`
}

func (*SendEmailAction) Type() ActionType        { return ActionTypeSendEmail }
func (*SendSMSAction) Type() ActionType          { return ActionTypeSendSMS }
func (*CreateTaskAction) Type() ActionType       { return ActionTypeCreateTask }
func (*UpdateRecordAction) Type() ActionType     { return ActionTypeUpdateRecord }
func (*GenerateDocumentAction) Type() ActionType { return ActionTypeGenerateDocument }
func (*SendNotificationAction) Type() ActionType { return ActionTypeSendNotification }
func (*CallWebhookAction) Type() ActionType      { return ActionTypeCallWebhook }
func (*UpdateStatusAction) Type() ActionType     { return ActionTypeUpdateStatus }

func (*SendEmailAction) isActionSpec()        {}
func (*SendSMSAction) isActionSpec()          {}
func (*CreateTaskAction) isActionSpec()       {}
func (*UpdateRecordAction) isActionSpec()     {}
func (*GenerateDocumentAction) isActionSpec() {}
func (*SendNotificationAction) isActionSpec() {}
func (*CallWebhookAction) isActionSpec()      {}
func (*UpdateStatusAction) isActionSpec()     {}

func newActionSpec(actionType ActionType) (ActionSpec, error) {
	switch actionType {
	case ActionTypeSendEmail:
		return &SendEmailAction{}, nil
	case ActionTypeSendSMS:
		return &SendSMSAction{}, nil
	case ActionTypeCreateTask:
		return &CreateTaskAction{}, nil
	case ActionTypeUpdateRecord:
		return &UpdateRecordAction{}, nil
	case ActionTypeGenerateDocument:
		return &GenerateDocumentAction{}, nil
	case ActionTypeSendNotification:
		return &SendNotificationAction{}, nil
	case ActionTypeCallWebhook:
		return &CallWebhookAction{}, nil
	case ActionTypeUpdateStatus:
		return &UpdateStatusAction{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}
}

// Valid reports whether t names a known action variant.
func (t ActionType) Valid() bool {
	_, err := newActionSpec(t)

	return err == nil
}

// Action is one step of a workflow.
//
// A failed Critical action skips every action after it. Consecutive Parallel
// actions that are not critical may be executed concurrently.
type Action struct {
	Critical bool
	Parallel bool
	Spec     ActionSpec
}

// Type returns the variant of the action, or an empty type when the spec is unset.
func (a Action) Type() ActionType {
	if a.Spec == nil {
		return ""
	}

	return a.Spec.Type()
}

// MarshalJSON flattens the spec next to the type tag and the execution flags.
func (a Action) MarshalJSON() ([]byte, error) {
	if a.Spec == nil {
		return nil, errors.New("action has no spec")
	}

	fields, err := toFieldMap(a.Spec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s action: %w", a.Spec.Type(), err)
	}

	fields["type"] = a.Spec.Type()
	fields["critical"] = a.Critical

	if a.Parallel {
		fields["parallel"] = true
	}

	return json.Marshal(fields)
}

// UnmarshalJSON decodes a tagged action object into its variant.
func (a *Action) UnmarshalJSON(data []byte) error {
	var header struct {
		Type     string `json:"type"`
		Critical bool   `json:"critical"`
		Parallel bool   `json:"parallel"`
	}

	err := json.Unmarshal(data, &header)
	if err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	spec, err := newActionSpec(ActionType(header.Type))
	if err != nil {
		return err
	}

	err = json.Unmarshal(data, spec)
	if err != nil {
		return fmt.Errorf("invalid %s action: %w", header.Type, err)
	}

	a.Critical = header.Critical
	a.Parallel = header.Parallel
	a.Spec = spec

	return nil
}
