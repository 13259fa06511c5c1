package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	httpx "github.com/kookbook/kookbook/internal/http"
	"github.com/kookbook/kookbook/internal/models"
)

var startedAt = time.Now()

type systemInfo struct {
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Hostname string `json:"hostname"`
	CPUs     int    `json:"cpus"`
}

type runtimeInfo struct {
	Version    string  `json:"version"`
	PID        int     `json:"pid"`
	Goroutines int     `json:"goroutines"`
	Uptime     float64 `json:"uptimeSeconds"`
	HeapAlloc  uint64  `json:"heapAllocBytes"`
	HeapSys    uint64  `json:"heapSysBytes"`
	Sys        uint64  `json:"sysBytes"`
	NumGC      uint32  `json:"numGC"`
}

type monitoringResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	System    systemInfo        `json:"system"`
	Runtime   runtimeInfo       `json:"runtime"`
	Store     map[string]string `json:"store"`
}

// monitoring reports process and store health to admins.
func (s *Server) monitoring(w http.ResponseWriter, r *http.Request) error {
	if _, err := s.guard.RequireRole(r, models.RoleAdmin); err != nil {
		return err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	hostname, _ := os.Hostname()

	status := "connected"
	if err := s.users.Ping(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("store ping failed")
		status = "unavailable"
	}

	httpx.WriteSuccess(w, http.StatusOK, monitoringResponse{
		Timestamp: time.Now().UTC(),
		System: systemInfo{
			Platform: runtime.GOOS,
			Arch:     runtime.GOARCH,
			Hostname: hostname,
			CPUs:     runtime.NumCPU(),
		},
		Runtime: runtimeInfo{
			Version:    runtime.Version(),
			PID:        os.Getpid(),
			Goroutines: runtime.NumGoroutine(),
			Uptime:     time.Since(startedAt).Seconds(),
			HeapAlloc:  mem.HeapAlloc,
			HeapSys:    mem.HeapSys,
			Sys:        mem.Sys,
			NumGC:      mem.NumGC,
		},
		Store: map[string]string{"status": status},
	}, "")
	return nil
}
