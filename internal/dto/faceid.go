package dto

import "time"

// CreateVerifyRequest asks a user to re-verify their face.
type CreateVerifyRequest struct {
	TargetUserID string    `json:"targetUserId" validate:"required"`
	SessionID    string    `json:"sessionId" validate:"required"`
	RoundID      string    `json:"roundId"`
	GroupID      string    `json:"groupId"`
	Threshold    float64   `json:"threshold" validate:"omitempty,gt=0,lte=1"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// CompleteVerifyRequest delivers the scorer's answer.
type CompleteVerifyRequest struct {
	Matched    *bool   `json:"matched" validate:"required"`
	Similarity float64 `json:"similarity" validate:"gte=0,lte=1"`
}

// VerifyFaceRequest submits a fresh capture for scoring.
type VerifyFaceRequest struct {
	ImageURL string `json:"imageUrl" validate:"required,url"`
}

// CancelGroupResponse reports how many requests were cancelled.
type CancelGroupResponse struct {
	GroupID   string `json:"groupId"`
	Cancelled int    `json:"cancelled"`
}
