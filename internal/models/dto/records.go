package dto

import "github.com/hongminglow/flatkeeper/internal/models"

// CreatedResponse carries the id assigned to a new record.
type CreatedResponse struct {
	ID string `json:"id"`
}

type SetPaidRequest struct {
	IsPaid bool `json:"isPaid"`
}

type ResyncResponse struct {
	Written int `json:"written"`
}

// MeResponse describes the authenticated identity.
type MeResponse struct {
	IdentityID string `json:"identityId"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

// TenancyEvent is one state of the caller's tenancy stream. Tenancy is nil
// while no record exists.
type TenancyEvent struct {
	Found   bool                     `json:"found"`
	Tenancy *models.TenantProjection `json:"tenancy,omitempty"`
}

// RoleEvent is one state of the caller's role stream.
type RoleEvent struct {
	Role string `json:"role"`
}
