package cmd

import (
	"stargate/internal/auth"
	"stargate/internal/config"
	"stargate/internal/platform"

	"github.com/spf13/cobra"
)

// authCmd groups the authentication subcommands.
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication with the ShapeDiver platform",
	Long: `Manage authentication with the ShapeDiver platform.

stargate uses the OAuth Authorization Code flow with PKCE. Tokens are
persisted locally so a login survives restarts.`,
}

func init() {
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

// newAuthManager wires the platform client, credential store, and auth
// manager from the loaded configuration.
func newAuthManager(cfg config.Config, autoLogin bool) (*auth.Manager, *platform.Client, error) {
	client, err := platform.NewClient(platform.ClientConfig{
		BaseURL:  cfg.Auth.BaseURL,
		ClientID: cfg.Auth.ClientID,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := auth.NewFileStore(cfg.Credentials.Path)
	if err != nil {
		return nil, nil, err
	}

	manager, err := auth.NewManager(auth.ManagerConfig{
		Platform:  client,
		Store:     store,
		AutoLogin: autoLogin,
	})
	if err != nil {
		return nil, nil, err
	}
	return manager, client, nil
}
