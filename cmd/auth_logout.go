package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// authLogoutCmd clears the persisted credentials.
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear stored credentials",
	Long:  `Clear the stored refresh token and any transient login state.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, _, err := newAuthManager(cfg, false)
		if err != nil {
			return err
		}
		if err := manager.Logout(); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
