package domain

// Identity is the authenticated caller, resolved from a bearer credential
// issued by the external auth service.
type Identity struct {
	UserID   string
	Username string
	Email    string
}
