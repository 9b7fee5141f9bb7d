package opcua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

func TestNewEndpointValidatesConfig(t *testing.T) {
	if _, err := NewEndpoint(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
	if _, err := NewEndpoint(Config{Endpoint: "http://plc:4840"}); err == nil {
		t.Fatalf("expected error for non opc.tcp endpoint")
	}

	ep, err := NewEndpoint(Config{Endpoint: "opc.tcp://plc:4840"})
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}
	if ep.cfg.SecurityMode != "None" || ep.cfg.ApplicationName != "AegisBridge" {
		t.Fatalf("expected defaults to be applied, got %+v", ep.cfg)
	}
}

func TestEndpointFactoryWrapsConfigurationError(t *testing.T) {
	factory := NewEndpointFactory(0)
	_, err := factory(domain.Server{ID: 1, Name: "PLC", URL: ""})
	if !domain.IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}

	ep, err := factory(domain.Server{ID: 1, Name: "PLC", URL: "opc.tcp://plc:4840", Username: "op"})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if ep.(*Endpoint).cfg.Username != "op" {
		t.Fatalf("expected credentials to be carried over")
	}
}

func TestOperationsWithoutSessionAreDisconnected(t *testing.T) {
	ep, err := NewEndpoint(Config{Endpoint: "opc.tcp://plc:4840"})
	if err != nil {
		t.Fatalf("new endpoint: %v", err)
	}

	ctx := context.Background()
	if _, err := ep.ReadValue(ctx, "ns=2;s=Temp"); !errors.Is(err, domain.ErrEndpointDisconnected) {
		t.Fatalf("expected disconnected error on read, got %v", err)
	}
	if err := ep.WriteValue(ctx, "ns=2;s=Temp", 1.0, domain.TypeDouble); !errors.Is(err, domain.ErrEndpointDisconnected) {
		t.Fatalf("expected disconnected error on write, got %v", err)
	}
	if err := ep.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect without session should be a no-op, got %v", err)
	}
}

func TestNodeIDIsParsedOnceAndValidated(t *testing.T) {
	ep, _ := NewEndpoint(Config{Endpoint: "opc.tcp://plc:4840"})

	first, err := ep.nodeID("ns=2;s=Temp")
	if err != nil {
		t.Fatalf("parse node id: %v", err)
	}
	second, _ := ep.nodeID("ns=2;s=Temp")
	if first != second {
		t.Fatalf("expected cached node id")
	}
	if _, err := ep.nodeID("ns=x;q=broken"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestClassifyMarksLostSessions(t *testing.T) {
	if err := classify(ua.StatusBadSessionIDInvalid); !errors.Is(err, domain.ErrEndpointDisconnected) {
		t.Fatalf("expected session status to be classified as disconnected, got %v", err)
	}
	if err := classify(fmt.Errorf("read: %w", io.EOF)); !errors.Is(err, domain.ErrEndpointDisconnected) {
		t.Fatalf("expected EOF to be classified as disconnected, got %v", err)
	}
	if err := classify(ua.StatusBadNodeIDUnknown); errors.Is(err, domain.ErrEndpointDisconnected) {
		t.Fatalf("unknown node must not be classified as disconnected")
	}
	if classify(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestNormalizeSecurityMode(t *testing.T) {
	cases := map[string]string{
		"":                 "None",
		"sign":             "Sign",
		"SignAndEncrypt":   "SignAndEncrypt",
		"sign_and_encrypt": "SignAndEncrypt",
		"bogus":            "None",
	}
	for in, want := range cases {
		if got := normalizeSecurityMode(in); got != want {
			t.Fatalf("normalizeSecurityMode(%q) = %q, want %q", in, got, want)
		}
	}
}
