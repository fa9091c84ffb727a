// Package gateway implements the command-dispatch peer: it connects to the
// platform's gateway service, registers this client, and serves typed inbound
// commands against lazily resolved model sessions.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"stargate/internal/platform"
	"stargate/internal/session"
	"stargate/pkg/logging"
)

// DefaultEndpoint is used when the platform does not advertise a gateway
// endpoint.
const DefaultEndpoint = "prod-sg.eu-central-1.shapediver.com"

// LivenessWindow is how long the client counts as active after a status
// command. The gateway sends status every 30 seconds, so a 35 second window
// tolerates one delayed ping.
const LivenessWindow = 35 * time.Second

// SessionResolver resolves model ids to geometry sessions.
// *session.Resolver satisfies it.
type SessionResolver interface {
	Resolve(ctx context.Context, modelID string) (*session.ScopedSession, error)
}

// EndpointSource supplies the gateway endpoint advertisement.
// *platform.Client satisfies it.
type EndpointSource interface {
	GetGatewayConfig(ctx context.Context) (*platform.GatewayConfig, error)
}

// Handler signatures for the data commands. Handlers receive the resolved
// session of the command's model and may perform network I/O against the
// geometry backend using the session's scoped credentials.
type (
	GetDataHandler    func(ctx context.Context, cmd GetDataCommand, sess *session.ScopedSession) (*GetDataReply, error)
	BakeDataHandler   func(ctx context.Context, cmd BakeDataCommand, sess *session.ScopedSession) (*BakeDataReply, error)
	ExportFileHandler func(ctx context.Context, cmd ExportFileCommand, sess *session.ScopedSession) (*ExportFileReply, error)
)

// DispatcherConfig configures a Dispatcher. Platform, Sessions, and
// AccessToken are required; everything else has defaults.
type DispatcherConfig struct {
	Platform EndpointSource
	Sessions SessionResolver
	// AccessToken authenticates the register message.
	AccessToken string
	// ClientName is the display name announced to the gateway.
	ClientName string
	// Version is the client version announced to the gateway.
	Version string
	// SupportedData overrides the empty capability advertisement.
	SupportedData SupportedData
	// Endpoint overrides endpoint resolution via the platform.
	Endpoint string

	// GetData, BakeData, and ExportFile implement the data commands.
	// A command without a handler is answered with a NOTHING reply.
	GetData    GetDataHandler
	BakeData   BakeDataHandler
	ExportFile ExportFileHandler

	// UnknownCommand is called for command types without a binding.
	// Defaults to logging.
	UnknownCommand func(env *Envelope)
	// ConnectionError is called when the gateway sends an error message.
	// Defaults to logging.
	ConnectionError func(msg string)
	// Disconnect is called when the connection is closed by the gateway or
	// other external circumstances. Defaults to logging.
	Disconnect func(msg string)

	// Dialer opens the gateway connection. Defaults to the websocket Dial.
	Dialer func(ctx context.Context, endpoint string) (Conn, error)
}

// Dispatcher serves gateway commands over a single connection.
type Dispatcher struct {
	cfg           DispatcherConfig
	firstActivity int64
	now           func() time.Time
	window        time.Duration

	mu       sync.Mutex
	conn     Conn
	deadline time.Time
}

// NewDispatcher creates a dispatcher. The first-activity timestamp reported
// in status replies is fixed at construction time.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.UnknownCommand == nil {
		cfg.UnknownCommand = func(env *Envelope) {
			logging.Info("Gateway", "Received command without binding: %s", env.Type)
		}
	}
	if cfg.ConnectionError == nil {
		cfg.ConnectionError = func(msg string) {
			logging.Error("Gateway", errors.New(msg), "Connection error")
		}
	}
	if cfg.Disconnect == nil {
		cfg.Disconnect = func(msg string) {
			logging.Error("Gateway", errors.New(msg), "Disconnected")
		}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = Dial
	}
	d := &Dispatcher{
		cfg:    cfg,
		now:    time.Now,
		window: LivenessWindow,
	}
	d.firstActivity = d.now().Unix()
	return d
}

// ResolveEndpoint picks a gateway endpoint from the platform advertisement,
// falling back to the default when none is advertised.
func (d *Dispatcher) ResolveEndpoint(ctx context.Context) string {
	config, err := d.cfg.Platform.GetGatewayConfig(ctx)
	if err != nil {
		logging.Warn("Gateway", "Failed to fetch gateway config, using default endpoint: %v", err)
		return DefaultEndpoint
	}
	for _, endpoint := range config.Endpoint {
		if endpoint != "" {
			return endpoint
		}
	}
	return DefaultEndpoint
}

// Connect resolves the gateway endpoint, dials it, and registers this client.
// It must be followed by Serve.
func (d *Dispatcher) Connect(ctx context.Context) error {
	endpoint := d.cfg.Endpoint
	if endpoint == "" {
		endpoint = d.ResolveEndpoint(ctx)
	}
	logging.Info("Gateway", "Connecting to gateway %s", endpoint)

	conn, err := d.cfg.Dialer(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := d.register(conn); err != nil {
		conn.Close()
		return err
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	logging.Info("Gateway", "Registered as %q", d.cfg.ClientName)
	return nil
}

// register announces the client and waits for the gateway's acknowledgement.
func (d *Dispatcher) register(conn Conn) error {
	hostname, _ := os.Hostname()
	payload, err := json.Marshal(RegisterRequest{
		Token:      d.cfg.AccessToken,
		ClientName: d.cfg.ClientName,
		Version:    d.cfg.Version,
		Platform:   runtime.GOOS,
		Hostname:   hostname,
		Extension:  "",
	})
	if err != nil {
		return fmt.Errorf("failed to encode register request: %w", err)
	}

	if err := conn.Write(&Envelope{
		ID:      uuid.NewString(),
		Type:    CommandRegister,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("failed to send register request: %w", err)
	}

	ack, err := conn.Read()
	if err != nil {
		return fmt.Errorf("failed to read register acknowledgement: %w", err)
	}
	switch ack.Type {
	case CommandRegister:
		return nil
	case CommandError:
		var errPayload ErrorPayload
		_ = json.Unmarshal(ack.Payload, &errPayload)
		return fmt.Errorf("gateway rejected registration: %s", errPayload.Message)
	default:
		return fmt.Errorf("unexpected message during registration: %s", ack.Type)
	}
}

// Serve reads commands until the connection drops or the context ends.
// Each command runs in its own goroutine, so distinct commands may complete
// out of order; replies are matched by envelope id.
func (d *Dispatcher) Serve(ctx context.Context) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("dispatcher is not connected")
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		env, err := conn.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.cfg.Disconnect(err.Error())
			return err
		}
		if env.Type == CommandError {
			var errPayload ErrorPayload
			_ = json.Unmarshal(env.Payload, &errPayload)
			d.cfg.ConnectionError(errPayload.Message)
			continue
		}
		go d.dispatch(ctx, conn, env)
	}
}

// Close tears down the gateway connection.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	conn := d.conn
	d.conn = nil
	d.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// IsActive reports whether a status command arrived within the liveness
// window. Expiry is computed from the stored deadline rather than a timer
// callback, so a heartbeat landing right at window expiry still counts:
// each re-arm wins unconditionally over the lapsed window.
func (d *Dispatcher) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.deadline)
}

// markActive re-arms the liveness window.
func (d *Dispatcher) markActive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deadline = d.now().Add(d.window)
}

// dispatch executes one command and always writes exactly one reply for
// bound command types, no matter how the handler fails.
func (d *Dispatcher) dispatch(ctx context.Context, conn Conn, env *Envelope) {
	reply, ok := d.handle(ctx, env)
	if !ok {
		return
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		logging.Error("Gateway", err, "Failed to encode reply for %s", env.Type)
		return
	}
	if err := conn.Write(&Envelope{ID: env.ID, Type: env.Type, Payload: payload}); err != nil {
		logging.Error("Gateway", err, "Failed to send reply for %s", env.Type)
	}
}

// handle produces the reply body for a command. The second return value is
// false for command types that get no reply.
func (d *Dispatcher) handle(ctx context.Context, env *Envelope) (any, bool) {
	switch env.Type {
	case CommandStatus:
		d.markActive()
		return &StatusReply{
			FirstActivity:  d.firstActivity,
			LatestActivity: d.now().Unix(),
		}, true

	case CommandGetSupportedData:
		base := SupportedData{
			ParameterTypes: []string{},
			TypeHints:      []string{},
			ContentTypes:   []string{},
			FileExtensions: []string{},
		}
		return base.Merge(d.cfg.SupportedData), true

	case CommandPrepareModel:
		return d.handlePrepareModel(ctx, env), true

	case CommandGetData:
		return d.handleGetData(ctx, env), true

	case CommandBakeData:
		return d.handleBakeData(ctx, env), true

	case CommandExportFile:
		return d.handleExportFile(ctx, env), true

	default:
		d.cfg.UnknownCommand(env)
		return nil, false
	}
}

func (d *Dispatcher) handlePrepareModel(ctx context.Context, env *Envelope) *PrepareModelReply {
	var cmd PrepareModelCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return &PrepareModelReply{Info: PrepareModelInfo{
			Message: fmt.Sprintf("Invalid command payload: %v", err),
			Result:  PrepareModelNothing,
		}}
	}
	if _, err := d.cfg.Sessions.Resolve(ctx, cmd.Model.ID); err != nil {
		logging.Error("Gateway", err, "Failed to prepare model %s", cmd.Model.ID)
		return &PrepareModelReply{Info: PrepareModelInfo{
			Message: fmt.Sprintf("Failed to resolve session: %v", err),
			Result:  PrepareModelNothing,
		}}
	}
	return &PrepareModelReply{Info: PrepareModelInfo{Result: PrepareModelSuccess}}
}

func (d *Dispatcher) handleGetData(ctx context.Context, env *Envelope) *GetDataReply {
	nothing := func(message string) *GetDataReply {
		return &GetDataReply{Info: GetDataInfo{Message: message, Result: GetDataNothing, Count: 0}}
	}

	var cmd GetDataCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return nothing(fmt.Sprintf("Invalid command payload: %v", err))
	}
	sess, err := d.cfg.Sessions.Resolve(ctx, cmd.Model.ID)
	if err != nil {
		logging.Error("Gateway", err, "Failed to resolve session for model %s", cmd.Model.ID)
		return nothing(fmt.Sprintf("Failed to resolve session: %v", err))
	}
	if d.cfg.GetData == nil {
		logging.Warn("Gateway", "Received get-data command, but no handler is registered")
		return nothing("No handler registered.")
	}

	reply, err := guard(func() (*GetDataReply, error) {
		return d.cfg.GetData(ctx, cmd, sess)
	})
	if err != nil {
		logging.Error("Gateway", err, "Get-data handler failed")
		return nothing(fmt.Sprintf("Handler failed: %v", err))
	}
	return reply
}

func (d *Dispatcher) handleBakeData(ctx context.Context, env *Envelope) *BakeDataReply {
	nothing := func(message string) *BakeDataReply {
		return &BakeDataReply{Info: BakeDataInfo{Message: message, Result: BakeDataNothing, Count: 0}}
	}

	var cmd BakeDataCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return nothing(fmt.Sprintf("Invalid command payload: %v", err))
	}
	sess, err := d.cfg.Sessions.Resolve(ctx, cmd.Model.ID)
	if err != nil {
		logging.Error("Gateway", err, "Failed to resolve session for model %s", cmd.Model.ID)
		return nothing(fmt.Sprintf("Failed to resolve session: %v", err))
	}
	if d.cfg.BakeData == nil {
		logging.Warn("Gateway", "Received bake-data command, but no handler is registered")
		return nothing("No handler registered.")
	}

	reply, err := guard(func() (*BakeDataReply, error) {
		return d.cfg.BakeData(ctx, cmd, sess)
	})
	if err != nil {
		logging.Error("Gateway", err, "Bake-data handler failed")
		return nothing(fmt.Sprintf("Handler failed: %v", err))
	}
	return reply
}

func (d *Dispatcher) handleExportFile(ctx context.Context, env *Envelope) *ExportFileReply {
	nothing := func(message string) *ExportFileReply {
		return &ExportFileReply{Info: ExportFileInfo{Message: message, Result: ExportFileNothing}}
	}

	var cmd ExportFileCommand
	if err := json.Unmarshal(env.Payload, &cmd); err != nil {
		return nothing(fmt.Sprintf("Invalid command payload: %v", err))
	}
	sess, err := d.cfg.Sessions.Resolve(ctx, cmd.Model.ID)
	if err != nil {
		logging.Error("Gateway", err, "Failed to resolve session for model %s", cmd.Model.ID)
		return nothing(fmt.Sprintf("Failed to resolve session: %v", err))
	}
	if d.cfg.ExportFile == nil {
		logging.Warn("Gateway", "Received export-file command, but no handler is registered")
		return nothing("No handler registered.")
	}

	reply, err := guard(func() (*ExportFileReply, error) {
		return d.cfg.ExportFile(ctx, cmd, sess)
	})
	if err != nil {
		logging.Error("Gateway", err, "Export-file handler failed")
		return nothing(fmt.Sprintf("Handler failed: %v", err))
	}
	return reply
}

// guard invokes a handler and converts panics into errors, so a misbehaving
// handler can never leave a command without a reply.
func guard[T any](fn func() (*T, error)) (reply *T, err error) {
	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	reply, err = fn()
	if err == nil && reply == nil {
		err = fmt.Errorf("handler returned no reply")
	}
	return reply, err
}
