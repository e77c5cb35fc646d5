package lifecycle

import (
	"context"
	"time"
)

// Check probes one backing store.
type Check func(ctx context.Context) error

// SystemStatus is the degraded-tolerant health report. Ready reflects only
// the stores retrieval cannot run without, plus applied migrations.
type SystemStatus struct {
	Ready            bool            `json:"ready"`
	Stores           map[string]bool `json:"stores"`
	MigrationVersion int64           `json:"migration_version"`
}

// StatusReporter aggregates store probes. A nil check reports the store as
// absent rather than unhealthy.
type StatusReporter struct {
	Registry Check
	Vectors  Check
	Graph    Check
	Blobs    Check
	Redis    Check
	// Migrations reports the applied schema version; readiness requires a
	// version greater than zero.
	Migrations func(ctx context.Context) (int64, error)

	ProbeTimeout time.Duration
}

func (r *StatusReporter) Report(ctx context.Context) SystemStatus {
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	probe := func(check Check) bool {
		if check == nil {
			return false
		}
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return check(cctx) == nil
	}

	stores := map[string]bool{
		"registry": probe(r.Registry),
		"vectors":  probe(r.Vectors),
		"graph":    probe(r.Graph),
		"blobs":    probe(r.Blobs),
		"redis":    probe(r.Redis),
	}

	var version int64
	if r.Migrations != nil {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		if v, err := r.Migrations(cctx); err == nil {
			version = v
		}
		cancel()
	}

	ready := stores["registry"] && stores["vectors"]
	if r.Migrations != nil && version <= 0 {
		ready = false
	}
	return SystemStatus{
		Ready:            ready,
		Stores:           stores,
		MigrationVersion: version,
	}
}
