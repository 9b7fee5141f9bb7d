package domain

import (
	"fmt"
	"time"
)

// ErrorKind classifies a failed link in a cycle.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindRead        ErrorKind = "read"
	KindWrite       ErrorKind = "write"
	KindUnavailable ErrorKind = "unavailable"
)

// LinkResult is the outcome of one link in one cycle.
type LinkResult struct {
	Link  ExchangeLink
	Value any
	Kind  ErrorKind
	Err   error
}

func (r LinkResult) Ok() bool { return r.Err == nil }

// CycleReport summarises one pass over the link table.
type CycleReport struct {
	RunID      string
	CycleIndex uint64
	Started    time.Time
	Results    []LinkResult
	Elapsed    time.Duration
	Slept      time.Duration
	Period     time.Duration
	Overrun    bool
}

func (c *CycleReport) ElapsedSeconds() float64 { return c.Elapsed.Seconds() }

func (c *CycleReport) SleptSeconds() float64 { return c.Slept.Seconds() }

// Failures counts links whose result carries an error.
func (c *CycleReport) Failures() int {
	n := 0
	for _, r := range c.Results {
		if !r.Ok() {
			n++
		}
	}
	return n
}

func (c *CycleReport) String() string {
	return fmt.Sprintf("cycle=%d links=%d failed=%d elapsed=%s slept=%s overrun=%t",
		c.CycleIndex, len(c.Results), c.Failures(), c.Elapsed, c.Slept, c.Overrun)
}
