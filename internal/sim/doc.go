/*
Package sim runs deterministic discrete-event simulations of clients
navigating a page space through the predictive cache.

A simulation wires a virtual clock, a synthetic origin, and a cache engine
together, then replays a seeded workload of client navigation: each client
walks the page space under a workload model (sequential, hotspot, or
uniform random), pauses an exponentially distributed think time between
requests, and keeps a small local ARC cache of pages it has already seen.
The server side charges a fixed cost for cache hits and an exponential
processing delay for misses, so the resulting Report quantifies what the
predictive layer buys.

All randomness derives from Config.Seed and all time is virtual, so the
same configuration always produces the same Report.
*/
package sim
