package platform

// TokenResponse is the token endpoint's success body for both the
// authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Model is the platform's model metadata, requested with the embed fields
// needed to open a geometry session: the backend system (where the model is
// hosted), the session ticket, and the scoped access token.
type Model struct {
	ID            string         `json:"id"`
	AccessToken   string         `json:"access_token"`
	BackendSystem *BackendSystem `json:"backend_system"`
	Ticket        *Ticket        `json:"ticket"`
}

// BackendSystem describes where a model's geometry backend lives.
type BackendSystem struct {
	ModelViewURL string `json:"model_view_url"`
}

// Ticket is the opaque credential exchanged against the geometry backend for
// a session.
type Ticket struct {
	Ticket string `json:"ticket"`
}

// GatewayConfig is the gateway service's endpoint advertisement: a mapping of
// named endpoints, any single value of which is usable.
type GatewayConfig struct {
	Endpoint map[string]string `json:"endpoint"`
}

// TokenClaims is the subset of access token claims surfaced to the user
// (auth status display). The claims are read without signature verification;
// the platform is the party that validates the token.
type TokenClaims struct {
	Subject   string
	ExpiresAt int64
}
