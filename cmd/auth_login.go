package cmd

import (
	"context"
	"fmt"
	"time"

	"stargate/internal/auth"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var loginNoBrowser bool

// authLoginCmd runs the browser-based OAuth login.
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the ShapeDiver platform",
	Long: `Authenticate with the ShapeDiver platform using OAuth.

This command starts a temporary local callback server, opens the platform's
authorization page in your browser, and exchanges the returned code for
tokens. The refresh token is persisted for later sessions.

Examples:
  stargate auth login                # Open the browser automatically
  stargate auth login --no-browser   # Print the URL instead`,
	RunE: runAuthLogin,
}

func init() {
	authLoginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the authorization URL instead of opening a browser")
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manager, _, err := newAuthManager(cfg, false)
	if err != nil {
		return err
	}

	server := auth.NewCallbackServer(cfg.Auth.CallbackPort)
	redirectURI, err := server.Start(ctx)
	if err != nil {
		return err
	}
	defer server.Stop()

	authorizeURL, err := manager.InitiateAuth(redirectURI)
	if err != nil {
		return err
	}

	if loginNoBrowser {
		fmt.Printf("Open the following URL in your browser:\n\n  %s\n\n", authorizeURL)
	} else {
		fmt.Println("Opening your browser to complete the login...")
		if err := auth.OpenBrowser(authorizeURL); err != nil {
			fmt.Printf("Could not open a browser (%v).\nOpen the following URL manually:\n\n  %s\n\n", err, authorizeURL)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Waiting for the login to complete..."
	s.Start()

	waitCtx, cancel := context.WithTimeout(ctx, auth.CallbackTimeout)
	defer cancel()

	query, err := server.WaitForCallback(waitCtx)
	s.Stop()
	if err != nil {
		return fmt.Errorf("login did not complete: %w", err)
	}

	if err := manager.HandleCallback(ctx, query); err != nil {
		return err
	}
	if manager.State() != auth.StateAuthenticated {
		code, description := manager.Err()
		return fmt.Errorf("login failed: %s (%s)", description, code)
	}

	fmt.Println("Login successful.")
	return nil
}
