package orchestrator

import "sync/atomic"

// Stats summarises how each node of one invocation was satisfied.
type Stats struct {
	LocalHits    int // already in the local store
	CacheHits    int // pulled from the remote cache
	RemoteBuilds int // built by a worker
	Fallbacks    int // built locally after the remote path failed
	Failures     int // could not be built at all
}

type counters struct {
	localHits    atomic.Int64
	cacheHits    atomic.Int64
	remoteBuilds atomic.Int64
	fallbacks    atomic.Int64
	failures     atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		LocalHits:    int(c.localHits.Load()),
		CacheHits:    int(c.cacheHits.Load()),
		RemoteBuilds: int(c.remoteBuilds.Load()),
		Fallbacks:    int(c.fallbacks.Load()),
		Failures:     int(c.failures.Load()),
	}
}
