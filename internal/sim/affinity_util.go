package sim

import "runtime"

// lockOSThread pins the calling goroutine to its current OS thread for the
// rest of its lifetime, a prerequisite for per-thread CPU affinity to mean
// anything in Go's M:N scheduler.
func lockOSThread() { runtime.LockOSThread() }

func runtimeNumCPU() int { return runtime.NumCPU() }
