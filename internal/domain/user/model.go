package user

import "github.com/google/uuid"

// User is an admin operator of the service, not a customer. Customers are
// represented by accounts and identified by payer email.
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         string
}
