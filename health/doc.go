// Package health reports the state of the resilience components.
//
// A Checker reports a Status (Healthy, Degraded or Unhealthy). An Aggregator
// runs named checkers concurrently under a timeout and folds their results
// into the most severe status.
//
// CircuitChecker degrades when any circuit is open or probing, and
// LimiterChecker degrades when a rate limit domain is nearly exhausted.
// RegisterFacade wires both for a resilience.Facade:
//
//	agg := health.NewAggregator()
//	health.RegisterFacade(agg, facade)
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg)
//	health.RegisterCircuitHandlers(mux, facade.CircuitBreaker())
//
// The handlers serve:
//
//	GET  /healthz                   liveness, always OK
//	GET  /readyz                    OK, DEGRADED or 503 UNHEALTHY
//	GET  /health                    every check as JSON
//	GET  /circuits                  every circuit as JSON
//	POST /circuits/{service}/reset  force a circuit closed
package health
