//go:build !linux

package sim

import "github.com/rs/zerolog/log"

// pinToCPU is a documented no-op off Linux: golang.org/x/sys/unix's
// SchedSetaffinity has no portable equivalent across darwin/windows, and
// the spec only requires best-effort pinning that degrades to a warning
// (spec §4.H step 4).
func pinToCPU(id int) {
	log.Warn().Int("worker", id).Msg("sim: CPU pinning unsupported on this platform, continuing unpinned")
}
