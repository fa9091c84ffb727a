package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"stargate/internal/auth"
	"stargate/internal/gateway"
	"stargate/internal/handlers"
	"stargate/internal/session"
	"stargate/pkg/logging"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// newConnectCmd creates the command that registers this machine with the
// gateway and serves commands until interrupted.
func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect to the Stargate gateway and serve commands",
		Long: `Connect to the Stargate gateway and serve commands.

The command authenticates (using a stored refresh token when available),
registers this machine as a Stargate client, and answers data requests from
ShapeDiver Apps until interrupted. If no login is available, it waits for
'stargate auth login' to complete in another terminal.`,
		RunE: runConnect,
	}
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager, client, err := newAuthManager(cfg, cfg.Auth.AutoLogin)
	if err != nil {
		return err
	}
	if err := manager.Bootstrap(ctx); err != nil {
		// A stale or rejected stored token is not fatal here: treat it as
		// "not authenticated" and fall through to the wait for a new login.
		logging.Warn("Auth", "Automatic login failed: %v", err)
	}

	if err := ensureAuthenticated(ctx, manager); err != nil {
		return err
	}
	accessToken, ok := manager.AccessToken()
	if !ok {
		return fmt.Errorf("no access token available after login")
	}

	resolver := session.NewResolver(session.ResolverConfig{Platform: client})
	builtin := handlers.New(handlers.Config{OutputDir: cfg.Gateway.OutputDir})

	dispatcher := gateway.NewDispatcher(gateway.DispatcherConfig{
		Platform:      client,
		Sessions:      resolver,
		AccessToken:   accessToken,
		ClientName:    cfg.Gateway.ClientName,
		Version:       GetVersion(),
		Endpoint:      cfg.Gateway.Endpoint,
		SupportedData: builtin.SupportedData(),
		GetData:       builtin.GetData,
		ExportFile:    builtin.ExportFile,
	})
	if err := dispatcher.Connect(ctx); err != nil {
		return err
	}
	defer dispatcher.Close()

	fmt.Printf("Connected as %q. Waiting for commands (Ctrl-C to stop).\n", cfg.Gateway.ClientName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Serve(gctx)
	})
	g.Go(func() error {
		return watchCredentials(gctx, manager)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("Disconnected.")
	return nil
}

// ensureAuthenticated waits until the manager reaches the authenticated
// state, retrying whenever the credential file changes (an external
// 'auth login' writes a fresh refresh token).
func ensureAuthenticated(ctx context.Context, manager *auth.Manager) error {
	if manager.State() == auth.StateAuthenticated {
		return nil
	}

	// A stored refresh token may not have been used yet.
	if err := manager.AuthUsingRefreshToken(ctx); err == nil {
		return nil
	} else if !errors.Is(err, auth.ErrNoRefreshToken) {
		logging.Warn("Auth", "Refresh-token login failed, waiting for a new login")
	}

	watcher, err := auth.NewCredentialWatcher(cfg.Credentials.Path)
	if err != nil {
		return err
	}
	watcher.Start(ctx)

	fmt.Println("Not authenticated. Run 'stargate auth login' in another terminal; waiting...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Changes():
			if err := manager.AuthUsingRefreshToken(ctx); err != nil {
				logging.Debug("Auth", "Credentials changed but login not usable yet: %v", err)
				continue
			}
			fmt.Println("Login detected.")
			return nil
		}
	}
}

// watchCredentials surfaces external credential changes while connected,
// e.g. a re-login or 'stargate auth logout' in another terminal.
func watchCredentials(ctx context.Context, manager *auth.Manager) error {
	watcher, err := auth.NewCredentialWatcher(cfg.Credentials.Path)
	if err != nil {
		return err
	}
	watcher.Start(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-watcher.Changes():
			logging.Info("Auth", "Stored credentials changed externally (state: %s)", manager.State())
		}
	}
}
