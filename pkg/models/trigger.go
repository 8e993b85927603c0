package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TriggerKind identifies a trigger variant.
type TriggerKind string

const (
	TriggerKindSchedule     TriggerKind = "schedule"
	TriggerKindEvent        TriggerKind = "event"
	TriggerKindStatusChange TriggerKind = "statusChange"
	TriggerKindDateBased    TriggerKind = "dateBased"
	TriggerKindManual       TriggerKind = "manual"
)

// TriggerKinds lists every trigger variant.
var TriggerKinds = []TriggerKind{
	TriggerKindSchedule,
	TriggerKindEvent,
	TriggerKindStatusChange,
	TriggerKindDateBased,
	TriggerKindManual,
}

// Valid reports whether k names a known trigger variant.
func (k TriggerKind) Valid() bool {
	_, err := newTrigger(k)

	return err == nil
}

// ErrUnknownTriggerKind is returned when a trigger type tag names no known variant.
var ErrUnknownTriggerKind = errors.New("unknown trigger type")

// Trigger is the closed set of conditions that schedule a workflow for consideration.
// Only the variants declared in this package implement it.
type Trigger interface {
	Kind() TriggerKind
	isTrigger()
}

// Recurrence is the calendar unit a schedule trigger repeats on.
type Recurrence string

const (
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// ScheduleTrigger fires once per recurrence period at AtTime.
type ScheduleTrigger struct {
	Recurrence Recurrence `json:"recurrence"             validate:"required,oneof=daily weekly monthly yearly"`
	AtTime     string     `json:"at_time"                validate:"required,datetime=15:04"`
	Weekday    string     `json:"weekday,omitempty"      validate:"omitempty,oneof=sunday monday tuesday wednesday thursday friday saturday"`
	DayOfMonth int        `json:"day_of_month,omitempty" validate:"omitempty,min=1,max=31"`
	Month      int        `json:"month,omitempty"        validate:"omitempty,min=1,max=12"`
	Timezone   string     `json:"timezone,omitempty"     validate:"omitempty,timezone"`
}

func (*ScheduleTrigger) Kind() TriggerKind { return TriggerKindSchedule }
func (*ScheduleTrigger) isTrigger()        {}

// EventTrigger fires when a domain event with EventName is published.
type EventTrigger struct {
	EventName string `json:"event_name" validate:"required"`
}

func (*EventTrigger) Kind() TriggerKind { return TriggerKindEvent }
func (*EventTrigger) isTrigger()        {}

// StatusChangeTrigger fires when an entity of EntityType transitions to ToStatus,
// optionally only when coming from FromStatus.
type StatusChangeTrigger struct {
	EntityType string `json:"entity_type"           validate:"required"`
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status"             validate:"required"`
}

func (*StatusChangeTrigger) Kind() TriggerKind { return TriggerKindStatusChange }
func (*StatusChangeTrigger) isTrigger()        {}

// Matches reports whether a transition satisfies the trigger.
func (t *StatusChangeTrigger) Matches(entityType, from, to string) bool {
	if t.EntityType != entityType || t.ToStatus != to {
		return false
	}

	return t.FromStatus == "" || t.FromStatus == from
}

// Direction tells whether a date-based trigger looks ahead of or behind the date field.
type Direction string

const (
	DirectionBefore Direction = "before"
	DirectionAfter  Direction = "after"
)

// DateBasedTrigger fires for every entity whose date Field falls within DaysOffset days of today.
type DateBasedTrigger struct {
	EntityType string    `json:"entity_type" validate:"required"`
	Field      string    `json:"field"       validate:"required"`
	DaysOffset int       `json:"days_offset" validate:"min=0,max=366"`
	Direction  Direction `json:"direction"   validate:"required,oneof=before after"`
}

func (*DateBasedTrigger) Kind() TriggerKind { return TriggerKindDateBased }
func (*DateBasedTrigger) isTrigger()        {}

// ManualTrigger is only started through the authoring API.
type ManualTrigger struct{}

func (*ManualTrigger) Kind() TriggerKind { return TriggerKindManual }
func (*ManualTrigger) isTrigger()        {}

func newTrigger(kind TriggerKind) (Trigger, error) {
	switch kind {
	case TriggerKindSchedule:
		return &ScheduleTrigger{}, nil
	case TriggerKindEvent:
		return &EventTrigger{}, nil
	case TriggerKindStatusChange:
		return &StatusChangeTrigger{}, nil
	case TriggerKindDateBased:
		return &DateBasedTrigger{}, nil
	case TriggerKindManual:
		return &ManualTrigger{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerKind, kind)
	}
}

type typeTag struct {
	Type string `json:"type"`
}

// MarshalTrigger encodes a trigger as {"type": kind, ...fields}.
func MarshalTrigger(trigger Trigger) ([]byte, error) {
	if trigger == nil {
		return []byte("null"), nil
	}

	fields, err := toFieldMap(trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s trigger: %w", trigger.Kind(), err)
	}

	fields["type"] = trigger.Kind()

	return json.Marshal(fields)
}

// UnmarshalTrigger decodes a tagged trigger object into its variant.
func UnmarshalTrigger(data []byte) (Trigger, error) {
	var tag typeTag

	err := json.Unmarshal(data, &tag)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger: %w", err)
	}

	trigger, err := newTrigger(TriggerKind(tag.Type))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(data, trigger)
	if err != nil {
		return nil, fmt.Errorf("invalid %s trigger: %w", tag.Type, err)
	}

	return trigger, nil
}

func toFieldMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]any)

	err = json.Unmarshal(raw, &fields)
	if err != nil {
		return nil, err
	}

	return fields, nil
}
