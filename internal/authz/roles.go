package authz

// Роли хранятся строкой; ядро их не проверяет, только выставляет по умолчанию.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)
