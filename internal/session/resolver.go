// Package session resolves model ids to geometry backend sessions and caches
// them for the lifetime of a gateway connection.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"stargate/internal/geometry"
	"stargate/internal/platform"
	"stargate/pkg/logging"
)

// ScopedSession bundles a geometry client scoped to one model with the
// session opened on that model's backend.
type ScopedSession struct {
	ModelID  string
	Geometry *geometry.Client
	Session  *geometry.Session
}

// ModelSource provides the platform model metadata needed to open a geometry
// session. *platform.Client satisfies it.
type ModelSource interface {
	GetModel(ctx context.Context, modelID string) (*platform.Model, error)
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Platform supplies model metadata.
	Platform ModelSource
	// HTTPClient is passed to geometry clients. Optional.
	HTTPClient *http.Client
}

type entry struct {
	done    chan struct{}
	session *ScopedSession
	err     error
}

// Resolver creates at most one geometry session per model id. Concurrent
// requests for the same model collapse onto a single in-flight resolution,
// and successful sessions are reused until Reset is called. Failed
// resolutions are evicted so a later request can retry.
type Resolver struct {
	mu         sync.Mutex
	platform   ModelSource
	httpClient *http.Client
	entries    map[string]*entry
}

// NewResolver creates a session resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{
		platform:   cfg.Platform,
		httpClient: cfg.HTTPClient,
		entries:    make(map[string]*entry),
	}
}

// Resolve returns the session for the given model, opening one if needed.
// When several goroutines ask for the same model at once, exactly one
// metadata fetch and one ticket exchange happen; the others wait for that
// result.
func (r *Resolver) Resolve(ctx context.Context, modelID string) (*ScopedSession, error) {
	if modelID == "" {
		return nil, fmt.Errorf("model id must not be empty")
	}

	r.mu.Lock()
	e, ok := r.entries[modelID]
	if !ok {
		e = &entry{done: make(chan struct{})}
		r.entries[modelID] = e
		r.mu.Unlock()

		e.session, e.err = r.open(ctx, modelID)
		if e.err != nil {
			// Drop the failed entry so the next request retries.
			r.mu.Lock()
			if r.entries[modelID] == e {
				delete(r.entries, modelID)
			}
			r.mu.Unlock()
		}
		close(e.done)
		return e.session, e.err
	}
	r.mu.Unlock()

	select {
	case <-e.done:
		return e.session, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset discards all cached sessions. In-flight resolutions are unaffected;
// their results simply stop being shared.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}

// open fetches the model metadata and exchanges its ticket for a geometry
// session.
func (r *Resolver) open(ctx context.Context, modelID string) (*ScopedSession, error) {
	model, err := r.platform.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model %s: %w", modelID, err)
	}
	if model.BackendSystem == nil || model.BackendSystem.ModelViewURL == "" {
		return nil, fmt.Errorf("model %s has no backend system", modelID)
	}
	if model.Ticket == nil || model.Ticket.Ticket == "" {
		return nil, fmt.Errorf("model %s has no session ticket", modelID)
	}

	client := geometry.NewClient(geometry.Config{
		BaseURL:     model.BackendSystem.ModelViewURL,
		AccessToken: model.AccessToken,
		HTTPClient:  r.httpClient,
	})
	session, err := client.CreateSessionByTicket(ctx, model.Ticket.Ticket)
	if err != nil {
		return nil, err
	}

	logging.Info("Session", "Opened geometry session %s for model %s", session.SessionID, modelID)
	return &ScopedSession{
		ModelID:  modelID,
		Geometry: client,
		Session:  session,
	}, nil
}
