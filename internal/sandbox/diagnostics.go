package sandbox

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// MemoryDiagnostics reports the host process's current resident memory
// alongside the sandbox's configured byte budget, for operators
// correlating a MemoryLimitExceeded trap with actual process-level
// memory pressure (goja itself exposes no per-VM heap accounting).
type MemoryDiagnostics struct {
	ConfiguredLimitBytes int64
	ProcessRSSBytes      uint64
	Sampled              bool
}

// SampleMemory reads the current process's RSS via gopsutil. Sampled is
// false if the process handle or memory info couldn't be read, which
// SampleMemory treats as advisory-only rather than fatal.
func (s *Sandbox) SampleMemory() MemoryDiagnostics {
	diag := MemoryDiagnostics{ConfiguredLimitBytes: s.cfg.MemoryLimitBytes}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return diag
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return diag
	}
	diag.ProcessRSSBytes = info.RSS
	diag.Sampled = true
	return diag
}
