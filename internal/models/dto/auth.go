package dto

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token      string `json:"token"`
	IdentityID string `json:"identityId"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

type SetRoleRequest struct {
	Role string `json:"role"`
}
