package cmd

import (
	"time"

	"stargate/internal/auth"
	"stargate/internal/platform"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// authStatusCmd shows the current authentication state.
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current authentication state",
	Long: `Show the current authentication state.

When a refresh token is stored, the command attempts to obtain a fresh
access token and reports the identity and expiry it carries.`,
	RunE: runAuthStatus,
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manager, _, err := newAuthManager(cfg, true)
	if err != nil {
		return err
	}
	if err := manager.Bootstrap(ctx); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"State", manager.State().String()})
	t.AppendRow(table.Row{"Refresh token", presence(manager.RefreshToken() != "")})

	if token, ok := manager.AccessToken(); ok {
		if claims, err := platform.Claims(token); err == nil {
			t.AppendRow(table.Row{"Subject", claims.Subject})
			if claims.ExpiresAt > 0 {
				expiry := time.Unix(claims.ExpiresAt, 0)
				t.AppendRow(table.Row{"Token expires", expiry.Format(time.RFC3339)})
			}
		}
	}
	if manager.State() == auth.StateError {
		code, description := manager.Err()
		t.AppendRow(table.Row{"Error", code})
		t.AppendRow(table.Row{"Description", description})
	}

	t.Render()
	return nil
}

func presence(present bool) string {
	if present {
		return "stored"
	}
	return "none"
}
