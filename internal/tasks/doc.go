// Package tasks runs long location checks with real-time progress reporting.
//
// # Sweep
//
// [SweepEngine.Sweep] checks every location of a cached directory:
//
//  1. A producer requests an endpoint address for each location from the backend,
//     paced by a rate limiter so the sweep never floods the address endpoint
//  2. A bounded pool of workers probes each address through a fixed proxy
//     configuration built with the credentials the host requires
//  3. Results are collected in directory order with the exit address and latency
//
// The sweep never touches the platform proxy: probes configure their own HTTP
// transport, so a running session is left alone.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
