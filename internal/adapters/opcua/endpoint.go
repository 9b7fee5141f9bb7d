package opcua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string
	Username        string
	Password        string
	SecurityMode    string
	SecurityPolicy  string
	ApplicationName string
	AutoReconnect   bool
	RequestTimeout  time.Duration
}

// ConfigFromServer maps a configured server onto session settings.
func ConfigFromServer(s domain.Server) Config {
	return Config{
		Endpoint:        s.URL,
		Username:        s.Username,
		Password:        s.Password,
		SecurityMode:    s.SecurityMode,
		SecurityPolicy:  s.SecurityPolicy,
		ApplicationName: s.ApplicationName,
		AutoReconnect:   s.AutoReconnect,
	}
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisBridge"
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if !strings.HasPrefix(strings.ToLower(c.Endpoint), "opc.tcp://") {
		return fmt.Errorf("endpoint %q must use the opc.tcp scheme", c.Endpoint)
	}
	return nil
}

// Endpoint is a ports.TagEndpoint backed by a gopcua client.
type Endpoint struct {
	cfg Config

	mu     sync.RWMutex
	client *opcua.Client

	nodesMu sync.Mutex
	nodes   map[string]*ua.NodeID
}

func NewEndpoint(cfg Config) (*Endpoint, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Endpoint{
		cfg:   cfg,
		nodes: make(map[string]*ua.NodeID),
	}, nil
}

// NewEndpointFactory returns a factory building one Endpoint per server.
// requestTimeout is applied to every session unless zero.
func NewEndpointFactory(requestTimeout time.Duration) ports.EndpointFactory {
	return func(s domain.Server) (ports.TagEndpoint, error) {
		cfg := ConfigFromServer(s)
		cfg.RequestTimeout = requestTimeout
		ep, err := NewEndpoint(cfg)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "servers." + s.Name, Err: err}
		}
		return ep, nil
	}
}

func (e *Endpoint) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return fmt.Errorf("opcua endpoint %s already connected", e.cfg.Endpoint)
	}

	client, err := opcua.NewClient(e.cfg.Endpoint, e.buildClientOptions()...)
	if err != nil {
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("opcua connect %s: %w", e.cfg.Endpoint, err)
	}
	e.client = client
	return nil
}

func (e *Endpoint) ReadValue(ctx context.Context, tag string) (any, error) {
	client, err := e.session()
	if err != nil {
		return nil, err
	}
	nodeID, err := e.nodeID(tag)
	if err != nil {
		return nil, err
	}

	resp, err := client.Read(ctx, &ua.ReadRequest{
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("read %s: empty result", tag)
	}
	res := resp.Results[0]
	if res.Status != ua.StatusOK {
		return nil, classify(res.Status)
	}
	if res.Value == nil {
		return nil, fmt.Errorf("read %s: no value", tag)
	}
	return res.Value.Value(), nil
}

func (e *Endpoint) WriteValue(ctx context.Context, tag string, value any, vt domain.ValueType) error {
	client, err := e.session()
	if err != nil {
		return err
	}
	nodeID, err := e.nodeID(tag)
	if err != nil {
		return err
	}
	variant, err := ToVariant(value, vt)
	if err != nil {
		return err
	}

	resp, err := client.Write(ctx, &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      nodeID,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        variant,
				},
			},
		},
	})
	if err != nil {
		return classify(err)
	}
	if len(resp.Results) == 0 {
		return fmt.Errorf("write %s: empty result", tag)
	}
	if resp.Results[0] != ua.StatusOK {
		return classify(resp.Results[0])
	}
	return nil
}

func (e *Endpoint) Disconnect(ctx context.Context) error {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("opcua close %s: %w", e.cfg.Endpoint, err)
	}
	return nil
}

func (e *Endpoint) session() (*opcua.Client, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.client == nil {
		return nil, fmt.Errorf("opcua %s: %w", e.cfg.Endpoint, domain.ErrEndpointDisconnected)
	}
	return e.client, nil
}

func (e *Endpoint) nodeID(tag string) (*ua.NodeID, error) {
	e.nodesMu.Lock()
	defer e.nodesMu.Unlock()
	if id, ok := e.nodes[tag]; ok {
		return id, nil
	}
	id, err := ua.ParseNodeID(tag)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %w", tag, err)
	}
	e.nodes[tag] = id
	return id, nil
}

func (e *Endpoint) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(e.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(e.cfg.SecurityPolicy)),
		opcua.ApplicationName(e.cfg.ApplicationName),
		opcua.AutoReconnect(e.cfg.AutoReconnect),
		opcua.RequestTimeout(e.cfg.RequestTimeout),
	}

	if e.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(e.cfg.Username, e.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

var lostSessionStatus = map[ua.StatusCode]struct{}{
	ua.StatusBadSessionIDInvalid:       {},
	ua.StatusBadSessionClosed:          {},
	ua.StatusBadSessionNotActivated:    {},
	ua.StatusBadSecureChannelClosed:    {},
	ua.StatusBadSecureChannelIDInvalid: {},
	ua.StatusBadConnectionClosed:       {},
	ua.StatusBadNotConnected:           {},
	ua.StatusBadServerNotConnected:     {},
}

// classify wraps errors meaning the session is gone with ErrEndpointDisconnected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var code ua.StatusCode
	if errors.As(err, &code) {
		if _, lost := lostSessionStatus[code]; lost {
			return fmt.Errorf("%w: %v", domain.ErrEndpointDisconnected, err)
		}
		return err
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", domain.ErrEndpointDisconnected, err)
	}
	return err
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.TagEndpoint = (*Endpoint)(nil)
