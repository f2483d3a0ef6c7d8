// Package memory keeps the server inside its container memory limit.
//
// Go does not derive GOMEMLIMIT from cgroup limits, so [ConfigureFromEnv]
// sets it from MEMORY_LIMIT (bytes, usually injected with the Kubernetes
// Downward API) scaled by MEMORY_RATIO (default 0.85). An explicit GOMEMLIMIT
// always wins. The remainder is headroom for ffmpeg and libvips, which
// allocate outside the Go heap.
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.75"
//
// A [Monitor] samples heap usage against that limit and pauses ingestion
// while usage is above the critical mark. The ingest worker calls
// [Monitor.Wait] before claiming each job, so a burst of large uploads
// cannot stack several decodes on top of an already full heap. Processing
// resumes once usage drops below the resume mark.
package memory
