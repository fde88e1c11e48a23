package commons

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

const bytesPerMB = 1024 * 1024

// Probe samples wall clock time and the resident memory of the whole
// process. The memory delta includes allocations of concurrent requests and
// GC effects, so it's a diagnostic value only and may be negative.
type Probe struct {
	proc      *process.Process
	start     time.Time
	rssBefore uint64
}

func StartProbe() *Probe {
	p := &Probe{start: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("[Probe] Couldn't inspect own process: ", err.Error())
		return p
	}
	p.proc = proc
	p.rssBefore = p.rss()
	return p
}

func (p *Probe) rss() uint64 {
	if p.proc == nil {
		return 0
	}
	info, err := p.proc.MemoryInfo()
	if err != nil {
		log.Debug("[Probe] Couldn't read memory info: ", err.Error())
		return 0
	}
	return info.RSS
}

// Stop returns the elapsed seconds and the RSS delta in MB since StartProbe.
func (p *Probe) Stop() (seconds float64, memoryMB float64) {
	seconds = time.Since(p.start).Seconds()
	if p.proc == nil {
		return seconds, 0
	}
	after := p.rss()
	return seconds, (float64(after) - float64(p.rssBefore)) / bytesPerMB
}
