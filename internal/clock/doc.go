// Package clock provides the injectable time source used by the delivery
// pipeline.
//
// Production code uses Real(). Tests use Fake(), whose timers only fire when
// Advance is called, so debounce windows and Retry-After delays can be
// asserted to the millisecond:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := analytics_transport.NewPipeline(cfg, deps, analytics_transport.WithClock(c))
//	p.Submit("pageview", nil, nil)
//	c.Advance(200 * time.Millisecond) // debounce timer fires here
package clock
