package model

import "time"

const (
	AuditAccountLocked   = "ACCOUNT_LOCKED"
	AuditAccountUnlocked = "ACCOUNT_UNLOCKED"
	AuditTokensPurged    = "TOKENS_PURGED"
	AuditStoreDegraded   = "STORE_DEGRADED"
)

// AuditEvent : событие безопасности для журнала аудита
type AuditEvent struct {
	Action     string            `json:"action"`
	UserID     string            `json:"userId,omitempty"`
	ActorID    string            `json:"actorId,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
	Details    map[string]string `json:"details,omitempty"`
}
