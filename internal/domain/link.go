package domain

import (
	"fmt"
	"math"
	"time"
)

// ExchangeLink copies one source tag to one target tag every cycle.
type ExchangeLink struct {
	SourceServerID ServerID  `json:"source_server_id"`
	SourceTag      string    `json:"source_tag"`
	TargetServerID ServerID  `json:"target_server_id"`
	TargetTag      string    `json:"target_tag"`
	ValueType      ValueType `json:"value_type"`
}

// LinkTable is the immutable set of servers and links driving the exchange.
// Links execute in slice order.
type LinkTable struct {
	servers []Server
	links   []ExchangeLink
	period  float64
}

// NewLinkTable copies its inputs and validates them.
func NewLinkTable(servers []Server, links []ExchangeLink, periodSeconds float64) (*LinkTable, error) {
	t := &LinkTable{
		servers: append([]Server(nil), servers...),
		links:   append([]ExchangeLink(nil), links...),
		period:  periodSeconds,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the invariants the engine relies on.
func (t *LinkTable) Validate() error {
	if t == nil {
		return &ConfigurationError{Field: "table", Err: fmt.Errorf("link table is nil")}
	}
	if !(t.period > 0) || math.IsInf(t.period, 1) {
		return &ConfigurationError{Field: "exchange_time", Err: fmt.Errorf("period must be > 0, got %v", t.period)}
	}
	if t.period*float64(time.Second) >= math.MaxInt64 {
		return &ConfigurationError{Field: "exchange_time", Err: fmt.Errorf("period %v s does not fit a time.Duration", t.period)}
	}
	if len(t.servers) == 0 {
		return &ConfigurationError{Field: "servers", Err: fmt.Errorf("at least one server must be configured")}
	}

	ids := make(map[ServerID]struct{}, len(t.servers))
	names := make(map[string]struct{}, len(t.servers))
	for _, s := range t.servers {
		if _, dup := ids[s.ID]; dup {
			return &ConfigurationError{Field: "servers", Err: fmt.Errorf("duplicate server id %d", s.ID)}
		}
		if _, dup := names[s.Name]; dup {
			return &ConfigurationError{Field: "servers", Err: fmt.Errorf("duplicate server name %q", s.Name)}
		}
		ids[s.ID] = struct{}{}
		names[s.Name] = struct{}{}
	}

	for i, l := range t.links {
		if _, ok := ids[l.SourceServerID]; !ok {
			return &ConfigurationError{Field: fmt.Sprintf("links[%d].source", i), Err: fmt.Errorf("undeclared server id %d", l.SourceServerID)}
		}
		if _, ok := ids[l.TargetServerID]; !ok {
			return &ConfigurationError{Field: fmt.Sprintf("links[%d].target", i), Err: fmt.Errorf("undeclared server id %d", l.TargetServerID)}
		}
		if l.SourceTag == "" || l.TargetTag == "" {
			return &ConfigurationError{Field: fmt.Sprintf("links[%d]", i), Err: fmt.Errorf("source and target tags are required")}
		}
		if !l.ValueType.Valid() {
			return &ConfigurationError{Field: fmt.Sprintf("links[%d].type", i), Err: fmt.Errorf("invalid value type %d", l.ValueType)}
		}
	}
	return nil
}

// Servers returns a copy of the configured servers in declaration order.
func (t *LinkTable) Servers() []Server { return append([]Server(nil), t.servers...) }

// Links returns a copy of the links in execution order.
func (t *LinkTable) Links() []ExchangeLink { return append([]ExchangeLink(nil), t.links...) }

func (t *LinkTable) Len() int { return len(t.links) }

func (t *LinkTable) Link(i int) ExchangeLink { return t.links[i] }

// PeriodSeconds is the configured cycle period.
func (t *LinkTable) PeriodSeconds() float64 { return t.period }

// Period converts the configured period to a time.Duration.
func (t *LinkTable) Period() time.Duration {
	return time.Duration(t.period * float64(time.Second))
}

// Server looks up a server by id.
func (t *LinkTable) Server(id ServerID) (Server, bool) {
	for _, s := range t.servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// ServerName returns the name of id, or a placeholder for unknown ids.
func (t *LinkTable) ServerName(id ServerID) string {
	if s, ok := t.Server(id); ok {
		return s.Name
	}
	return fmt.Sprintf("server#%d", id)
}
