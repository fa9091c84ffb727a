package auth

import (
	"context"
	"fmt"
	"path/filepath"

	"stargate/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// CredentialWatcher watches the credential file for external changes, so a
// running process notices when `auth login` completes in another terminal.
//
// The watch is installed on the parent directory rather than the file itself
// because the file may not exist yet and stores replace it on write.
type CredentialWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan struct{}
}

// NewCredentialWatcher creates a watcher for the credential file at path.
func NewCredentialWatcher(path string) (*CredentialWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch credential directory: %w", err)
	}
	return &CredentialWatcher{
		path:    path,
		watcher: watcher,
		changes: make(chan struct{}, 1),
	}, nil
}

// Start runs the watch loop until the context is cancelled.
func (w *CredentialWatcher) Start(ctx context.Context) {
	go func() {
		defer w.watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Name != w.path {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				logging.Debug("Auth", "Credential file changed on disk")
				select {
				case w.changes <- struct{}{}:
				default:
					// A change signal is already pending.
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Auth", "Credential watcher error: %v", err)
			}
		}
	}()
}

// Changes returns the channel signalled whenever the credential file is
// created or rewritten. Signals are coalesced.
func (w *CredentialWatcher) Changes() <-chan struct{} {
	return w.changes
}
