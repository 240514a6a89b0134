package enums

import "fmt"

// OutboxStatus is the lifecycle state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusPublished  OutboxStatus = "PUBLISHED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusProcessing,
	OutboxStatusPublished,
	OutboxStatusDead,
}

// IsValid reports whether the value is part of the outbox lifecycle.
func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the row's lifecycle.
// DEAD rows can still be revived through an explicit reprocess.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusPublished || s == OutboxStatusDead
}

// CanTransitionTo reports whether a transition from s to next is allowed.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending:
		return next == OutboxStatusProcessing
	case OutboxStatusProcessing:
		return next == OutboxStatusPublished || next == OutboxStatusPending || next == OutboxStatusDead
	case OutboxStatusDead:
		// Manual reprocess only.
		return next == OutboxStatusPending
	case OutboxStatusPublished:
		return false
	default:
		return false
	}
}

// ParseOutboxStatus validates and converts a raw string status.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	status := OutboxStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid outbox status %q", value)
	}
	return status, nil
}

// OutboxAggregateType identifies the aggregate an event originated from.
type OutboxAggregateType string

const (
	AggregateApproval       OutboxAggregateType = "approval"
	AggregateEvent          OutboxAggregateType = "event"
	AggregateNetworkNode    OutboxAggregateType = "network_node"
	AggregateComplianceCase OutboxAggregateType = "compliance_case"
	AggregatePointsAccount  OutboxAggregateType = "points_account"
	AggregatePipeline       OutboxAggregateType = "pipeline"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateApproval,
	AggregateEvent,
	AggregateNetworkNode,
	AggregateComplianceCase,
	AggregatePointsAccount,
	AggregatePipeline,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType is the discriminator shared by the outbox and the bus.
type OutboxEventType string

const (
	EventApprovalRequested     OutboxEventType = "approval.requested"
	EventApprovalDecided       OutboxEventType = "approval.decided"
	EventEventScheduled        OutboxEventType = "event.scheduled"
	EventEventCanceled         OutboxEventType = "event.canceled"
	EventNetworkNodeMoved      OutboxEventType = "network.node_moved"
	EventComplianceFlagRaised  OutboxEventType = "compliance.flag_raised"
	EventComplianceFlagCleared OutboxEventType = "compliance.flag_cleared"
	EventPointsAccrued         OutboxEventType = "points.accrued"
	EventPointsRedeemed        OutboxEventType = "points.redeemed"
	EventPipelineStageChanged  OutboxEventType = "pipeline.stage_changed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventApprovalRequested,
	EventApprovalDecided,
	EventEventScheduled,
	EventEventCanceled,
	EventNetworkNodeMoved,
	EventComplianceFlagRaised,
	EventComplianceFlagCleared,
	EventPointsAccrued,
	EventPointsRedeemed,
	EventPipelineStageChanged,
}

// AllOutboxEventTypes returns a copy of every known event type.
func AllOutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(validOutboxEventTypes))
	copy(out, validOutboxEventTypes)
	return out
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
