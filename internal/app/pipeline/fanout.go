package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// FanOut delivers every report to each reporter in order. A failing reporter
// does not keep the report from the others.
type FanOut []ports.Reporter

func (f FanOut) Name() string {
	names := make([]string, 0, len(f))
	for _, r := range f {
		names = append(names, r.Name())
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

func (f FanOut) Report(ctx context.Context, rep *domain.CycleReport) error {
	var errs []error
	for _, r := range f {
		if err := r.Report(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

var _ ports.Reporter = FanOut(nil)
