package models

import "time"

// ScheduleEntityID is the entity id used for schedule triggers, which fire per workflow rather than per entity.
const ScheduleEntityID = "schedule"

// FiringKey identifies one firing of a time-based trigger.
type FiringKey struct {
	WorkflowID string `json:"workflow_id"`
	EntityID   string `json:"entity_id"`
	WindowKey  string `json:"window_key"`
}

func (k FiringKey) String() string {
	return k.WorkflowID + "/" + k.EntityID + "/" + k.WindowKey
}

// FiringEntry is a durable firing ledger row. Its presence means the key already fired.
type FiringEntry struct {
	Key     FiringKey `json:"key"`
	FiredAt time.Time `json:"fired_at"`
}
