// Package workers sizes worker pools from GOMAXPROCS rather than
// runtime.NumCPU, so a container limited to two CPUs on a large host gets two
// workers, not one per host core.
//
//	n := workers.ForMixed(4) // 1.5 per CPU, at most 4
package workers
