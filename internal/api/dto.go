package api

import (
	"encoding/json"
	"time"

	"github.com/shaiso/Durable/internal/client"
	"github.com/shaiso/Durable/internal/domain"
)

// CheckStatusResponse — ответ на запуск: ID instance и URI для опроса.
type CheckStatusResponse struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Created           bool   `json:"created"`
	StatusQueryGetURI string `json:"statusQueryGetUri"`
	HistoryGetURI     string `json:"historyGetUri"`
	TerminatePostURI  string `json:"terminatePostUri"`
}

// InstanceResponse — ответ с instance.
type InstanceResponse struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	Status               domain.InstanceStatus `json:"status"`
	Input                json.RawMessage       `json:"input,omitempty"`
	Output               json.RawMessage       `json:"output,omitempty"`
	Error                string                `json:"error,omitempty"`
	Reason               string                `json:"reason,omitempty"`
	ParentID             string                `json:"parent_id,omitempty"`
	TerminationRequested bool                  `json:"termination_requested,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	LastUpdatedAt        time.Time             `json:"last_updated_at"`
	CompletedAt          *time.Time            `json:"completed_at,omitempty"`
}

// InstanceFromDomain конвертирует domain.Instance в InstanceResponse.
func InstanceFromDomain(i domain.Instance) InstanceResponse {
	return InstanceResponse{
		ID:                   i.ID,
		Name:                 i.Name,
		Status:               i.Status,
		Input:                i.Input,
		Output:               i.Output,
		Error:                i.Error,
		Reason:               i.Reason,
		ParentID:             i.ParentID,
		TerminationRequested: i.TerminationRequested,
		CreatedAt:            i.CreatedAt,
		LastUpdatedAt:        i.LastUpdatedAt,
		CompletedAt:          i.CompletedAt,
	}
}

// HistoryEventResponse — ответ с событием истории.
type HistoryEventResponse struct {
	Seq       int              `json:"seq"`
	Type      domain.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
}

// HistoryEventFromDomain конвертирует domain.HistoryEvent в HistoryEventResponse.
func HistoryEventFromDomain(ev domain.HistoryEvent) HistoryEventResponse {
	return HistoryEventResponse{
		Seq:       ev.Seq,
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		Payload:   ev.Payload,
	}
}

// TerminateResponse — ответ на terminate.
type TerminateResponse struct {
	Outcome    client.Outcome `json:"outcome"`
	InstanceID string         `json:"instance_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}
