package auth

const (
	ScopeOpenID  = "openid"
	ScopeProfile = "profile"
	ScopeEmail   = "email"
	ScopeRead    = "regwatch:read"
	ScopeRun     = "regwatch:run"
)

// AllScopes is the set of scopes requested by the Swagger UI.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeRead,
	ScopeRun,
}
