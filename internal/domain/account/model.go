package account

import "time"

// Account is the owning identity of purchases and licenses. Guest accounts
// are created implicitly from a payer email at purchase time and may later be
// merged into a registered account.
type Account struct {
	ID        int64     `db:"id"`
	Email     string    `db:"email"`
	Name      string    `db:"name"`
	IsGuest   bool      `db:"is_guest"`
	CreatedAt time.Time `db:"created_at"`
}
