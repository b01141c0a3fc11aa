package model

import "time"

// RevocationEntry : запись черного списка токенов, живет ровно TTLSeconds
type RevocationEntry struct {
	TokenID    string    `json:"tokenId"`
	TTLSeconds int64     `json:"ttlSeconds"`
	Reason     string    `json:"reason"`
	UserID     string    `json:"userId,omitempty"`
	TokenType  TokenType `json:"tokenType,omitempty"`
	RevokedAt  time.Time `json:"revokedAt"`
}

// RevocationStats : количество отозванных токенов по типам
type RevocationStats struct {
	Total   int64 `json:"total"`
	Access  int64 `json:"access"`
	Refresh int64 `json:"refresh"`
	Custom  int64 `json:"custom"`
}
