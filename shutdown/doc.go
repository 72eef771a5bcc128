// Package shutdown coordinates graceful shutdown of a taskvault process.
//
// Handlers register under a phase; lower phases stop first and handlers
// sharing a phase stop concurrently. The CLI uses three phases:
//
//   - PhaseStop: stop the retention sweeper and wait for a running sweep
//   - PhaseFlush: flush and shut down the trace provider
//   - PhaseClose: close blob backends and their connections
//
// Usage:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterWithPhase("sweeper", sweeper, shutdown.PhaseStop)
//	coord.RegisterWithPhase("blob", shutdown.Closer(store), shutdown.PhaseClose)
//	coord.HandleSignals()
//	<-coord.Done()
package shutdown
