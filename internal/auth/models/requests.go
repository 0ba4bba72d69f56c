package models

import (
	"strings"
	"time"
)

type SignupRequest struct {
	FullName string `json:"full_name" validate:"required,notblank,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (r *SignupRequest) Normalize() {
	r.FullName = strings.TrimSpace(r.FullName)
	r.Email = NormalizeEmail(r.Email)
	r.Phone = strings.TrimSpace(r.Phone)
}

// ActivateRequest carries the token from the verification email.
type ActivateRequest struct {
	Token string `json:"token" validate:"required,max=128"`
}

func (r *ActivateRequest) Normalize() {
	r.Token = strings.TrimSpace(r.Token)
}

// ResendVerificationRequest asks for a fresh token for a pending account.
type ResendVerificationRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

func (r *ResendVerificationRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
}

// SignInRequest accepts an email address or an ACS-NN account code.
type SignInRequest struct {
	Identifier string `json:"identifier" validate:"required,identifier"`
	Password   string `json:"password" validate:"required"`
}

func (r *SignInRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
	if !strings.HasPrefix(r.Identifier, "ACS-") {
		r.Identifier = NormalizeEmail(r.Identifier)
	}
}

type SignInResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Account     AccountView `json:"account"`
}
