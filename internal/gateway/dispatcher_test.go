package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stargate/internal/platform"
	"stargate/internal/session"
)

// fakeConn is an in-memory gateway connection. Tests push inbound envelopes
// into in and read the client's replies from out.
type fakeConn struct {
	in        chan *Envelope
	out       chan *Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan *Envelope, 16),
		out:    make(chan *Envelope, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read() (*Envelope, error) {
	select {
	case env := <-c.in:
		return env, nil
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Write(env *Envelope) error {
	select {
	case c.out <- env:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) nextReply(t *testing.T) *Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
		return nil
	}
}

type endpointStub struct {
	config *platform.GatewayConfig
	err    error
}

func (s *endpointStub) GetGatewayConfig(ctx context.Context) (*platform.GatewayConfig, error) {
	return s.config, s.err
}

type sessionStub struct {
	mu       sync.Mutex
	resolved []string
	err      error
}

func (s *sessionStub) Resolve(ctx context.Context, modelID string) (*session.ScopedSession, error) {
	s.mu.Lock()
	s.resolved = append(s.resolved, modelID)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &session.ScopedSession{ModelID: modelID}, nil
}

func (s *sessionStub) resolvedModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.resolved...)
}

// newServingDispatcher wires a dispatcher to a fake connection and starts the
// serve loop.
func newServingDispatcher(t *testing.T, cfg DispatcherConfig) (*Dispatcher, *fakeConn) {
	t.Helper()
	if cfg.Platform == nil {
		cfg.Platform = &endpointStub{config: &platform.GatewayConfig{}}
	}
	if cfg.Sessions == nil {
		cfg.Sessions = &sessionStub{}
	}

	d := NewDispatcher(cfg)
	conn := newFakeConn()
	d.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Serve(ctx)

	return d, conn
}

func command(t *testing.T, id string, cmdType CommandType, payload any) *Envelope {
	t.Helper()
	encoded, err := json.Marshal(payload)
	require.NoError(t, err)
	return &Envelope{ID: id, Type: cmdType, Payload: encoded}
}

func decodeReply[T any](t *testing.T, env *Envelope) T {
	t.Helper()
	var reply T
	require.NoError(t, json.Unmarshal(env.Payload, &reply))
	return reply
}

func TestConnect_Registers(t *testing.T) {
	conn := newFakeConn()
	d := NewDispatcher(DispatcherConfig{
		Platform:    &endpointStub{config: &platform.GatewayConfig{Endpoint: map[string]string{"eu": "gw.example.com"}}},
		Sessions:    &sessionStub{},
		AccessToken: "jwt-token",
		ClientName:  "Stargate Client",
		Version:     "1.2.3",
		Dialer: func(ctx context.Context, endpoint string) (Conn, error) {
			assert.Equal(t, "gw.example.com", endpoint)
			conn.in <- &Envelope{ID: "ack", Type: CommandRegister}
			return conn, nil
		},
	})

	require.NoError(t, d.Connect(context.Background()))
	defer d.Close()

	sent := conn.nextReply(t)
	assert.Equal(t, CommandRegister, sent.Type)
	assert.NotEmpty(t, sent.ID)

	var req RegisterRequest
	require.NoError(t, json.Unmarshal(sent.Payload, &req))
	assert.Equal(t, "jwt-token", req.Token)
	assert.Equal(t, "Stargate Client", req.ClientName)
	assert.Equal(t, "1.2.3", req.Version)
	assert.NotEmpty(t, req.Platform)
	assert.Empty(t, req.Extension)
}

func TestConnect_RegistrationRejected(t *testing.T) {
	conn := newFakeConn()
	payload, _ := json.Marshal(ErrorPayload{Message: "token expired"})
	d := NewDispatcher(DispatcherConfig{
		Platform: &endpointStub{err: fmt.Errorf("unavailable")},
		Sessions: &sessionStub{},
		Dialer: func(ctx context.Context, endpoint string) (Conn, error) {
			// The config fetch failed, so the default endpoint is used.
			assert.Equal(t, DefaultEndpoint, endpoint)
			conn.in <- &Envelope{ID: "ack", Type: CommandError, Payload: payload}
			return conn, nil
		},
	})

	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token expired")
}

func TestResolveEndpoint(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Platform: &endpointStub{config: &platform.GatewayConfig{Endpoint: map[string]string{"eu": "gw.example.com"}}},
		Sessions: &sessionStub{},
	})
	assert.Equal(t, "gw.example.com", d.ResolveEndpoint(context.Background()))

	d = NewDispatcher(DispatcherConfig{
		Platform: &endpointStub{config: &platform.GatewayConfig{}},
		Sessions: &sessionStub{},
	})
	assert.Equal(t, DefaultEndpoint, d.ResolveEndpoint(context.Background()))
}

func TestStatusCommand_TracksLiveness(t *testing.T) {
	d, conn := newServingDispatcher(t, DispatcherConfig{})
	d.window = 50 * time.Millisecond

	assert.False(t, d.IsActive())

	conn.in <- command(t, "s1", CommandStatus, struct{}{})
	reply := conn.nextReply(t)
	assert.Equal(t, "s1", reply.ID)
	assert.Equal(t, CommandStatus, reply.Type)

	status := decodeReply[StatusReply](t, reply)
	assert.Equal(t, d.firstActivity, status.FirstActivity)
	assert.GreaterOrEqual(t, status.LatestActivity, status.FirstActivity)
	assert.True(t, d.IsActive())

	// Liveness lapses once the window passes without another status command.
	assert.Eventually(t, func() bool { return !d.IsActive() }, time.Second, 10*time.Millisecond)

	// A later status command re-arms the window.
	conn.in <- command(t, "s2", CommandStatus, struct{}{})
	conn.nextReply(t)
	assert.True(t, d.IsActive())
}

func TestLiveness_HeartbeatAtWindowExpiryReArms(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{
		Platform: &endpointStub{config: &platform.GatewayConfig{}},
		Sessions: &sessionStub{},
	})
	current := time.Now()
	d.now = func() time.Time { return current }

	d.markActive()
	require.True(t, d.IsActive())

	// The window lapses without a heartbeat.
	current = current.Add(LivenessWindow)
	require.False(t, d.IsActive())

	// A heartbeat landing exactly at expiry must win over the lapsed
	// window: the client counts as active immediately afterwards.
	d.markActive()
	current = current.Add(100 * time.Microsecond)
	assert.True(t, d.IsActive())

	// The re-armed window runs its full length from the heartbeat.
	current = current.Add(LivenessWindow - time.Millisecond)
	assert.True(t, d.IsActive())
	current = current.Add(time.Millisecond)
	assert.False(t, d.IsActive())
}

func TestGetSupportedData_MergesOverrides(t *testing.T) {
	_, conn := newServingDispatcher(t, DispatcherConfig{
		SupportedData: SupportedData{
			ContentTypes:   []string{"application/json"},
			FileExtensions: []string{"json"},
			ParameterTypes: []string{"File"},
		},
	})

	conn.in <- command(t, "c1", CommandGetSupportedData, struct{}{})
	reply := decodeReply[SupportedData](t, conn.nextReply(t))

	assert.Equal(t, []string{"File"}, reply.ParameterTypes)
	assert.Equal(t, []string{"application/json"}, reply.ContentTypes)
	assert.Equal(t, []string{"json"}, reply.FileExtensions)
	// Fields without overrides stay present as empty lists.
	assert.NotNil(t, reply.TypeHints)
	assert.Empty(t, reply.TypeHints)
}

func TestPrepareModel_ResolvesSession(t *testing.T) {
	sessions := &sessionStub{}
	_, conn := newServingDispatcher(t, DispatcherConfig{Sessions: sessions})

	conn.in <- command(t, "p1", CommandPrepareModel, PrepareModelCommand{Model: ModelRef{ID: "model-a"}})
	reply := decodeReply[PrepareModelReply](t, conn.nextReply(t))

	assert.Equal(t, PrepareModelSuccess, reply.Info.Result)
	assert.Equal(t, []string{"model-a"}, sessions.resolvedModels())
}

func TestPrepareModel_ResolutionFailure(t *testing.T) {
	sessions := &sessionStub{err: fmt.Errorf("ticket expired")}
	_, conn := newServingDispatcher(t, DispatcherConfig{Sessions: sessions})

	conn.in <- command(t, "p1", CommandPrepareModel, PrepareModelCommand{Model: ModelRef{ID: "model-a"}})
	reply := decodeReply[PrepareModelReply](t, conn.nextReply(t))

	assert.Equal(t, PrepareModelNothing, reply.Info.Result)
	assert.Contains(t, reply.Info.Message, "ticket expired")
}

func TestGetData_DelegatesToHandler(t *testing.T) {
	sessions := &sessionStub{}
	_, conn := newServingDispatcher(t, DispatcherConfig{
		Sessions: sessions,
		GetData: func(ctx context.Context, cmd GetDataCommand, sess *session.ScopedSession) (*GetDataReply, error) {
			assert.Equal(t, "param-1", cmd.Parameter.ID)
			assert.Equal(t, "model-a", sess.ModelID)
			return &GetDataReply{
				Info:  GetDataInfo{Message: "File uploaded successfully.", Result: GetDataSuccess, Count: 1},
				Asset: &AssetRef{ID: "asset-1"},
			}, nil
		},
	})

	conn.in <- command(t, "g1", CommandGetData, GetDataCommand{
		Model:     ModelRef{ID: "model-a"},
		Parameter: ParameterRef{ID: "param-1"},
	})
	reply := decodeReply[GetDataReply](t, conn.nextReply(t))

	assert.Equal(t, GetDataSuccess, reply.Info.Result)
	assert.Equal(t, 1, reply.Info.Count)
	require.NotNil(t, reply.Asset)
	assert.Equal(t, "asset-1", reply.Asset.ID)
}

func TestGetData_WithoutHandler(t *testing.T) {
	_, conn := newServingDispatcher(t, DispatcherConfig{})

	conn.in <- command(t, "g1", CommandGetData, GetDataCommand{Model: ModelRef{ID: "model-a"}})
	reply := decodeReply[GetDataReply](t, conn.nextReply(t))

	assert.Equal(t, GetDataNothing, reply.Info.Result)
	assert.Equal(t, 0, reply.Info.Count)
	assert.Equal(t, "No handler registered.", reply.Info.Message)
}

func TestGetData_SessionOnDemand(t *testing.T) {
	// A get-data command for a model never prepared still resolves a session.
	sessions := &sessionStub{}
	_, conn := newServingDispatcher(t, DispatcherConfig{
		Sessions: sessions,
		GetData: func(ctx context.Context, cmd GetDataCommand, sess *session.ScopedSession) (*GetDataReply, error) {
			require.NotNil(t, sess)
			return &GetDataReply{Info: GetDataInfo{Result: GetDataSuccess, Count: 1}}, nil
		},
	})

	conn.in <- command(t, "g1", CommandGetData, GetDataCommand{Model: ModelRef{ID: "unprepared"}})
	reply := decodeReply[GetDataReply](t, conn.nextReply(t))

	assert.Equal(t, GetDataSuccess, reply.Info.Result)
	assert.Equal(t, []string{"unprepared"}, sessions.resolvedModels())
}

func TestBakeData_HandlerError(t *testing.T) {
	_, conn := newServingDispatcher(t, DispatcherConfig{
		BakeData: func(ctx context.Context, cmd BakeDataCommand, sess *session.ScopedSession) (*BakeDataReply, error) {
			return nil, fmt.Errorf("backend rejected computation")
		},
	})

	conn.in <- command(t, "b1", CommandBakeData, BakeDataCommand{Model: ModelRef{ID: "model-a"}})
	reply := decodeReply[BakeDataReply](t, conn.nextReply(t))

	assert.Equal(t, BakeDataNothing, reply.Info.Result)
	assert.Contains(t, reply.Info.Message, "backend rejected computation")
}

func TestExportFile_HandlerPanicStillReplies(t *testing.T) {
	_, conn := newServingDispatcher(t, DispatcherConfig{
		ExportFile: func(ctx context.Context, cmd ExportFileCommand, sess *session.ScopedSession) (*ExportFileReply, error) {
			panic("index out of range")
		},
	})

	conn.in <- command(t, "e1", CommandExportFile, ExportFileCommand{Model: ModelRef{ID: "model-a"}})
	reply := conn.nextReply(t)
	assert.Equal(t, "e1", reply.ID)

	decoded := decodeReply[ExportFileReply](t, reply)
	assert.Equal(t, ExportFileNothing, decoded.Info.Result)
	assert.Contains(t, decoded.Info.Message, "index out of range")

	// The connection survives the panic; further commands are served.
	conn.in <- command(t, "s1", CommandStatus, struct{}{})
	next := conn.nextReply(t)
	assert.Equal(t, CommandStatus, next.Type)
}

func TestUnknownCommand_Delegated(t *testing.T) {
	unknown := make(chan *Envelope, 1)
	_, conn := newServingDispatcher(t, DispatcherConfig{
		UnknownCommand: func(env *Envelope) { unknown <- env },
	})

	conn.in <- command(t, "u1", CommandType("telemetry"), struct{}{})

	select {
	case env := <-unknown:
		assert.Equal(t, CommandType("telemetry"), env.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("unknown-command handler was not called")
	}

	// No reply is produced for unbound command types.
	select {
	case env := <-conn.out:
		t.Fatalf("unexpected reply: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionError_Delegated(t *testing.T) {
	errors := make(chan string, 1)
	_, conn := newServingDispatcher(t, DispatcherConfig{
		ConnectionError: func(msg string) { errors <- msg },
	})

	payload, _ := json.Marshal(ErrorPayload{Message: "rate limited"})
	conn.in <- &Envelope{ID: "x", Type: CommandError, Payload: payload}

	select {
	case msg := <-errors:
		assert.Equal(t, "rate limited", msg)
	case <-time.After(5 * time.Second):
		t.Fatal("connection-error handler was not called")
	}
}

func TestDisconnect_Delegated(t *testing.T) {
	disconnects := make(chan string, 1)
	_, conn := newServingDispatcher(t, DispatcherConfig{
		Disconnect: func(msg string) { disconnects <- msg },
	})

	conn.Close()

	select {
	case <-disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnect handler was not called")
	}
}

func TestCommands_CompleteOutOfOrder(t *testing.T) {
	release := make(chan struct{})
	_, conn := newServingDispatcher(t, DispatcherConfig{
		GetData: func(ctx context.Context, cmd GetDataCommand, sess *session.ScopedSession) (*GetDataReply, error) {
			<-release
			return &GetDataReply{Info: GetDataInfo{Result: GetDataSuccess, Count: 1}}, nil
		},
	})

	conn.in <- command(t, "slow", CommandGetData, GetDataCommand{Model: ModelRef{ID: "model-a"}})
	conn.in <- command(t, "fast", CommandStatus, struct{}{})

	first := conn.nextReply(t)
	assert.Equal(t, "fast", first.ID)

	close(release)
	second := conn.nextReply(t)
	assert.Equal(t, "slow", second.ID)
}
