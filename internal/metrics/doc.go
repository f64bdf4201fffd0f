/*
Package metrics exposes cache activity as Prometheus metrics.

The Collector implements types.MetricsSink, so it plugs directly into the
cache store and engine; every lookup, insert, eviction, expiration, and
precache decision lands in a counter or histogram under the "precache"
namespace on the collector's own registry. Gauges for cache occupancy and
learned pattern size are refreshed by a periodic loop polling a StatsSource
(the engine).

Start serves /metrics (promhttp) and /health on the configured port; Stop
shuts the listener down. A disabled collector is inert: construction
succeeds, every method is callable, nothing is recorded or served.
*/
package metrics
