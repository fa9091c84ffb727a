// Package config loads the client configuration from a yaml file and fills
// in defaults for everything the file leaves out.
package config

// Config is the full client configuration.
type Config struct {
	Auth        AuthConfig        `yaml:"auth"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Credentials CredentialsConfig `yaml:"credentials"`
	LogLevel    string            `yaml:"logLevel"`
}

// AuthConfig configures the OAuth flow against the platform.
type AuthConfig struct {
	// BaseURL is the platform base URL serving the OAuth and API endpoints.
	BaseURL string `yaml:"baseUrl"`
	// ClientID is the OAuth client id registered for this application.
	ClientID string `yaml:"clientId"`
	// CallbackPort is the local port for the login redirect.
	CallbackPort int `yaml:"callbackPort"`
	// AutoLogin attempts a refresh-token login on startup.
	AutoLogin bool `yaml:"autoLogin"`
}

// GatewayConfig configures the gateway connection.
type GatewayConfig struct {
	// Endpoint overrides the endpoint advertised by the platform.
	Endpoint string `yaml:"endpoint"`
	// ClientName is the display name announced on registration.
	ClientName string `yaml:"clientName"`
	// OutputDir is where exported files are written.
	OutputDir string `yaml:"outputDir"`
}

// CredentialsConfig configures where tokens are persisted.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}
