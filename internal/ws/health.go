package ws

import (
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/shirou/gopsutil/v3/process"
)

type HealthPayload struct {
	Status    string         `json:"status"`
	Uptime    string         `json:"uptime"`
	Sessions  int            `json:"sessions"`
	Feeds     map[string]int `json:"feeds"`
	Listeners int            `json:"listeners"`
	Process   *ProcessStats  `json:"process,omitempty"`
}

type ProcessStats struct {
	RSSBytes   uint64  `json:"rssBytes"`
	Threads    int32   `json:"threads"`
	CPUPercent float64 `json:"cpuPercent"`
}

func processStats() (*ProcessStats, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, err
	}
	threads, err := p.NumThreads()
	if err != nil {
		return nil, err
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		return nil, err
	}
	return &ProcessStats{RSSBytes: mem.RSS, Threads: threads, CPUPercent: cpu}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := HealthPayload{
		Status:    "ok",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Sessions:  s.hub.Count(),
		Feeds:     s.hub.CountByFeed(),
		Listeners: s.bus.TotalListeners(),
	}
	stats, err := processStats()
	if err != nil {
		// Process stats are informational; report health without them.
		glog.V(1).Infof("health: process stats unavailable: %v", err)
	} else {
		h.Process = stats
	}
	writeJSON(w, http.StatusOK, h)
}
