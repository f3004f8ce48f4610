package auth

import "strings"

// Claims es la identidad de quien llama. Toda ocurrencia vive en un tenant,
// así que un usuario sin TenantID no puede operar.
type Claims struct {
	UserID   string
	Email    string
	TenantID string
}

// Scoped indica si hay usuario y tenant.
func (c Claims) Scoped() bool {
	return strings.TrimSpace(c.UserID) != "" && strings.TrimSpace(c.TenantID) != ""
}
