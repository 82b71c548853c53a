//go:build linux

package sim

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// pinToCPU best-effort pins the calling goroutine's OS thread to a single
// logical CPU so its arena allocations stay NUMA-local and cache-hot
// (spec §4.H step 4, §5). Failure logs a warning and proceeds; it is never
// fatal.
//
// Pinning a goroutine requires first locking it to its OS thread, since the
// Go runtime is otherwise free to migrate goroutines between threads
// between any two instructions.
func pinToCPU(id int) {
	lockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(id % runtimeNumCPU())

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		log.Warn().Int("worker", id).Err(err).Msg("sim: SchedSetaffinity failed, continuing unpinned")
		return
	}
	log.Debug().Int("worker", id).Msg("sim: worker pinned to cpu")
}
