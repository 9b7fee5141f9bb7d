package sink

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/ghalamif/AegisBridge/internal/domain"
	"github.com/ghalamif/AegisBridge/internal/ports"
)

// ConsoleReporter prints one line per link and one line per cycle.
type ConsoleReporter struct {
	mu    sync.Mutex
	out   io.Writer
	names ServerNamer
}

func NewConsoleReporter(out io.Writer, names ServerNamer) *ConsoleReporter {
	return &ConsoleReporter{out: out, names: names}
}

func (c *ConsoleReporter) Name() string { return "console" }

func (c *ConsoleReporter) Report(_ context.Context, r *domain.CycleReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, res := range r.Results {
		src := tagKey(c.names, res.Link.SourceServerID, res.Link.SourceTag)
		dst := tagKey(c.names, res.Link.TargetServerID, res.Link.TargetTag)
		var err error
		if res.Ok() {
			_, err = fmt.Fprintf(c.out, "%s: %v --> %s\n", src, res.Value, dst)
		} else {
			_, err = fmt.Fprintf(c.out, "%s --> %s: %s failed: %v\n", src, dst, res.Kind, res.Err)
		}
		if err != nil {
			return err
		}
	}

	period := strconv.FormatFloat(r.Period.Seconds(), 'g', -1, 64)
	elapsed := strconv.FormatFloat(r.ElapsedSeconds(), 'g', -1, 64)
	var err error
	if r.Overrun {
		_, err = fmt.Fprintf(c.out, "cycle %d: Warning: Calculation time longer than real-time (%s >= %s)\n", r.CycleIndex, elapsed, period)
	} else {
		_, err = fmt.Fprintf(c.out, "cycle %d: exT: %s - Calculation time: %s\n", r.CycleIndex, period, elapsed)
	}
	return err
}

var _ ports.Reporter = (*ConsoleReporter)(nil)
