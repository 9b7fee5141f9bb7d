package ports

import (
	"context"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

// TagEndpoint is a session to one server exposing tag reads and writes.
type TagEndpoint interface {
	Connect(ctx context.Context) error
	ReadValue(ctx context.Context, tag string) (any, error)
	WriteValue(ctx context.Context, tag string, value any, vt domain.ValueType) error
	Disconnect(ctx context.Context) error
}

// EndpointFactory builds an unconnected endpoint for a server.
type EndpointFactory func(domain.Server) (TagEndpoint, error)
