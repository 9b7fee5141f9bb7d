package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// MultiSink writes each batch to every sink; one failing sink does not
// starve the others.
type MultiSink []ports.ReportSink

func (m MultiSink) Name() string {
	names := make([]string, 0, len(m))
	for _, s := range m {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

func (m MultiSink) WriteBatch(reports []*domain.CycleReport) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteBatch(reports); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.ReportSink = MultiSink(nil)
