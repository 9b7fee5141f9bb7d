package domain

import "fmt"

// ServerID identifies a configured server inside a LinkTable.
type ServerID int

// Server is one OPC UA server taking part in the exchange.
type Server struct {
	ID   ServerID `json:"id"`
	Name string   `json:"name"`
	URL  string   `json:"url"`

	Username        string `json:"-"`
	Password        string `json:"-"`
	SecurityMode    string `json:"security_mode,omitempty"`
	SecurityPolicy  string `json:"security_policy,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
	AutoReconnect   bool   `json:"auto_reconnect,omitempty"`
}

func (s Server) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.URL)
}
