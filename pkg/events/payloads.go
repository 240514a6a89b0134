package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Typed payload shapes for the events this service emits. Producers build the
// DomainEvent payload map from these; consumers that want typed access decode
// back into them.

type ApprovalDecidedPayload struct {
	ApprovalID string    `json:"approvalId"`
	Decision   string    `json:"decision"`
	DecidedBy  string    `json:"decidedBy"`
	DecidedAt  time.Time `json:"decidedAt"`
	Reason     string    `json:"reason,omitempty"`
}

type ComplianceFlagPayload struct {
	CaseID   string `json:"caseId"`
	RuleCode string `json:"ruleCode"`
	Severity string `json:"severity"`
}

type PointsMovementPayload struct {
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Reference string          `json:"reference,omitempty"`
}

type PipelineStageChangedPayload struct {
	PipelineID string `json:"pipelineId"`
	FromStage  string `json:"fromStage"`
	ToStage    string `json:"toStage"`
}
