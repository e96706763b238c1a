package model

// Role — роль пользователя, выдаётся провайдером идентификации в claims токена
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleRider    Role = "rider"
)

// User — пользователь, встроенный в заказ (покупатель или курьер)
type User struct {
	ID    string `json:"_id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name"`
	Role  Role   `json:"role" validate:"omitempty,oneof=customer admin rider"`
}

// Principal — аутентифицированный вызывающий, извлечённый из bearer-токена
type Principal struct {
	UserID string
	Email  string
	Role   Role
}
