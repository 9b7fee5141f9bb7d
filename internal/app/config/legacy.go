package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ghalamif/AegisBridge/internal/domain"
)

type xmlLinkGroup struct {
	Source    string        `xml:"source,attr"`
	Target    string        `xml:"target,attr"`
	Variables []xmlVariable `xml:"variable"`
}

type xmlVariable struct {
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
	Type   string `xml:"type,attr"`
}

// ParseLegacyXML reads the original exchange document: exchange_time on the
// root element, OPCServer elements at any depth, and OPCLink_vars groups
// directly under a top-level OPCLinks element. Server names referenced by
// links may be declared after the links.
func ParseLegacyXML(raw []byte) (*Config, error) {
	cfg := Default()
	dec := xml.NewDecoder(bytes.NewReader(raw))

	var (
		path     []string
		sawRoot  bool
		exchange string
		haveExch bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "xml", Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if !sawRoot {
				sawRoot = true
				exchange, haveExch = attr(t, "exchange_time")
			}
			switch {
			case t.Name.Local == "OPCServer":
				name, _ := attr(t, "name")
				url, _ := attr(t, "url")
				cfg.Servers = append(cfg.Servers, ServerConfig{Name: name, URL: url})
			case t.Name.Local == "OPCLink_vars" && len(path) == 2 && path[1] == "OPCLinks":
				var g xmlLinkGroup
				if err := dec.DecodeElement(&g, &t); err != nil {
					return nil, &domain.ConfigurationError{Field: "OPCLink_vars", Err: err}
				}
				cfg.Links = append(cfg.Links, g.toLinkGroup())
				continue
			}
			path = append(path, t.Name.Local)
		case xml.EndElement:
			if len(path) > 0 {
				path = path[:len(path)-1]
			}
		}
	}

	if !sawRoot {
		return nil, &domain.ConfigurationError{Field: "xml", Err: errors.New("document has no root element")}
	}
	if !haveExch {
		return nil, &domain.ConfigurationError{Field: "exchange_time", Err: errors.New("root attribute exchange_time is required")}
	}
	period, err := strconv.ParseFloat(strings.TrimSpace(exchange), 64)
	if err != nil {
		return nil, &domain.ConfigurationError{Field: "exchange_time", Err: fmt.Errorf("not a number: %q", exchange)}
	}
	cfg.ExchangeTime = period

	return finish(&cfg)
}

func (g xmlLinkGroup) toLinkGroup() LinkGroup {
	out := LinkGroup{Source: g.Source, Target: g.Target}
	for _, v := range g.Variables {
		out.Variables = append(out.Variables, VariableConfig(v))
	}
	return out
}

func attr(el xml.StartElement, name string) (string, bool) {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
