package auth

// Principal is an identity or role marker handed to the application's
// authorization layer.
//
// Principals are derived on every request and never cached across
// requests, so session changes are reflected immediately.
type Principal string

const (
	// Everyone is granted to every request, authenticated or not.
	Everyone Principal = "everyone"
	// Authenticated is granted once an identity was resolved.
	Authenticated Principal = "authenticated"
)

// UserPrincipal returns the principal naming a specific user.
func UserPrincipal(username string) Principal {
	return Principal("user:" + username)
}

// GroupPrincipal returns the principal naming a group membership.
func GroupPrincipal(name string) Principal {
	return Principal("group:" + name)
}
