// Package health runs dependency pings for readiness probes and process
// startup.
package health

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
)

const (
	StatusUp   = "up"
	StatusDown = "down"
)

// Pinger is anything with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Check struct {
	Name   string
	Pinger Pinger
}

// Checks run in order. Entries with a nil Pinger are skipped so optional
// dependencies can be listed unconditionally.
type Checks []Check

// Add appends a check and returns the extended list.
func (c Checks) Add(name string, p Pinger) Checks {
	return append(c, Check{Name: name, Pinger: p})
}

// Run pings every dependency, even after a failure, and returns the status
// per name along with every failure combined.
func (c Checks) Run(ctx context.Context) (map[string]string, error) {
	statuses := make(map[string]string, len(c))
	var errs error
	for _, check := range c {
		if check.Pinger == nil {
			continue
		}
		if err := check.Pinger.Ping(ctx); err != nil {
			statuses[check.Name] = StatusDown
			errs = multierr.Append(errs, &DownError{Name: check.Name, Err: err})
			continue
		}
		statuses[check.Name] = StatusUp
	}
	return statuses, errs
}

// DownError names the dependency that failed its ping.
type DownError struct {
	Name string
	Err  error
}

func (e *DownError) Error() string { return fmt.Sprintf("%s ping failed: %v", e.Name, e.Err) }

func (e *DownError) Unwrap() error { return e.Err }

// Down lists the dependencies that failed in err, in check order.
func Down(err error) []string {
	var names []string
	for _, e := range multierr.Errors(err) {
		if d, ok := e.(*DownError); ok {
			names = append(names, d.Name)
		}
	}
	return names
}
