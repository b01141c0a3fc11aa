package requestresponse

import "tariff-auth/internal/model"

// AdminActionRequest : причина действия администратора попадает в аудит
type AdminActionRequest struct {
	Reason string `json:"reason" example:"обращение в поддержку"`
}

type UnlockResponse struct {
	Response struct {
		UserID   string `json:"userId" example:"b6a1e1c4-4b1d-4f1e-8b29-1234567890ab"`
		Unlocked bool   `json:"unlocked" example:"true"`
	} `json:"response"`
}

type LockoutStateResponse struct {
	Response struct {
		model.LockoutState
		Locked bool `json:"locked" example:"false"`
	} `json:"response"`
}

type RevokeUserResponse struct {
	Response struct {
		UserID  string `json:"userId" example:"b6a1e1c4-4b1d-4f1e-8b29-1234567890ab"`
		Revoked bool   `json:"revoked" example:"true"`
	} `json:"response"`
}

type RevokeTokenResponse struct {
	Response struct {
		TokenID string `json:"tokenId" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
		Revoked bool   `json:"revoked" example:"true"`
	} `json:"response"`
}

// RevocationListResponse : записи черного списка, самые свежие первыми
type RevocationListResponse struct {
	Response struct {
		Count   int                     `json:"count" example:"2"`
		Entries []model.RevocationEntry `json:"entries"`
	} `json:"response"`
}

type RevocationEntryResponse struct {
	Response model.RevocationEntry `json:"response"`
}

type RevocationStatsResponse struct {
	Response model.RevocationStats `json:"response"`
}

type RateLimitStatusResponse struct {
	Response struct {
		model.IPRateLimitStatus
		Suspicious bool `json:"suspicious" example:"false"`
	} `json:"response"`
}

type RateLimitResetResponse struct {
	Response struct {
		IPAddress string `json:"ipAddress" example:"203.0.113.7"`
		Cleared   bool   `json:"cleared" example:"true"`
	} `json:"response"`
}
