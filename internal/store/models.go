package store

import (
	"time"

	"github.com/rahul/sceneforge/internal/plan"
)

// Message roles as stored in the messages table.
const (
	RoleHuman  = "human"
	RoleAI     = "ai"
	RoleSystem = "system"
)

// Run is the record of one executed (or abandoned) plan.
type Run struct {
	ID        string            `json:"id"`
	ChatID    string            `json:"chat_id"`
	Request   string            `json:"request"`
	PlanID    string            `json:"plan_id,omitempty"`
	PlanTitle string            `json:"plan_title,omitempty"`
	Outcome   string            `json:"outcome"` // completed, error, rejected
	Results   []plan.StepResult `json:"results,omitempty"`
	Summary   string            `json:"summary,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
