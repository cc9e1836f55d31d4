package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/chestguard/chestguard/internal/conf"
	"github.com/chestguard/chestguard/internal/errors"
	"github.com/chestguard/chestguard/internal/inference"
	"github.com/chestguard/chestguard/internal/logger"
)

// Health states reported by /health.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

const bytesPerMB = 1024 * 1024

// cpuSampleWindow is how long GET /system/resources samples CPU usage.
const cpuSampleWindow = 200 * time.Millisecond

// HealthData is the payload of GET /health.
type HealthData struct {
	Status         string             `json:"status"`
	Version        string             `json:"version"`
	BuildDate      string             `json:"build_date"`
	Environment    string             `json:"environment"`
	Timestamp      string             `json:"timestamp"`
	Uptime         string             `json:"uptime"`
	UptimeSeconds  float64            `json:"uptime_seconds"`
	DatabaseStatus string             `json:"database_status"`
	DatabaseError  string             `json:"database_error,omitempty"`
	Models         []inference.Status `json:"models"`
	Enrichment     bool               `json:"enrichment_enabled"`
	System         HealthSystem       `json:"system"`
}

// HealthSystem is the cheap subset of resource usage included in /health.
// CPU load is only sampled by /system/resources.
type HealthSystem struct {
	NumCPU        int     `json:"num_cpu"`
	Goroutines    int     `json:"goroutines"`
	MemoryUsage   float64 `json:"memory_usage_percent,omitempty"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	LoadAverage1m float64 `json:"load_average_1m,omitempty"`
}

// SystemInfo represents basic system information
type SystemInfo struct {
	OS            string    `json:"os"`
	Architecture  string    `json:"architecture"`
	Hostname      string    `json:"hostname"`
	Platform      string    `json:"platform"`
	PlatformVer   string    `json:"platform_version"`
	KernelVersion string    `json:"kernel_version"`
	UpTime        uint64    `json:"uptime_seconds"`
	AppStart      time.Time `json:"app_start_time"`
	AppUptime     int64     `json:"app_uptime_seconds"`
	NumCPU        int       `json:"num_cpu"`
	CPUBrand      string    `json:"cpu_brand"`
	PhysicalCores int       `json:"physical_cores"`
	AVX2          bool      `json:"avx2"`
	GoVersion     string    `json:"go_version"`
}

// ResourceInfo represents system resource usage data
type ResourceInfo struct {
	CPUUsage    float64   `json:"cpu_usage_percent"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryUsage float64   `json:"memory_usage_percent"`
	ProcessMem  float64   `json:"process_memory_mb"`
	ProcessCPU  float64   `json:"process_cpu_percent"`
	UploadsDisk *DiskInfo `json:"uploads_disk,omitempty"`
}

// DiskInfo is the usage of the filesystem holding stored images.
type DiskInfo struct {
	Path      string  `json:"path"`
	Total     uint64  `json:"total"`
	Free      uint64  `json:"free"`
	UsagePerc float64 `json:"usage_percent"`
}

// HealthCheck handles GET /health. It answers 200 while degraded and 503
// only when the database is unreachable.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	reqCtx := ctx.Request().Context()
	uptime := time.Since(c.startTime)

	data := HealthData{
		Status:         HealthHealthy,
		Environment:    "production",
		Timestamp:      time.Now().Format(time.RFC3339),
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		DatabaseStatus: "connected",
		Models:         []inference.Status{},
	}
	if c.Settings != nil {
		data.Version = c.Settings.Version
		data.BuildDate = c.Settings.BuildDate
		if c.Settings.WebServer.Debug {
			data.Environment = "development"
		}
	}

	code := http.StatusOK
	if err := c.DS.Ping(reqCtx); err != nil {
		data.Status = HealthDegraded
		data.DatabaseStatus = "disconnected"
		data.DatabaseError = errors.ScrubMessage(err.Error())
		code = http.StatusServiceUnavailable
		c.log.Warn("health check database ping failed", logger.Error(err))
	}

	if c.models != nil {
		data.Models = c.models.Status(reqCtx)
		if !anyReady(data.Models) {
			data.Status = HealthDegraded
		}
	}
	if c.enrichment != nil {
		data.Enrichment = c.enrichment.Enabled()
	}
	data.System = healthSystem(reqCtx)

	return respond(ctx, code, data, "Service is "+data.Status)
}

func healthSystem(ctx context.Context) HealthSystem {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	hs := HealthSystem{
		NumCPU:      runtime.NumCPU(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / bytesPerMB,
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemoryUsage = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		hs.LoadAverage1m = avg.Load1
	}
	return hs
}

func anyReady(models []inference.Status) bool {
	for _, m := range models {
		if m.Ready {
			return true
		}
	}
	return false
}

// GetSystemInfo handles GET /system/info.
func (c *Controller) GetSystemInfo(ctx echo.Context) error {
	hostInfo, err := host.Info()
	if err != nil {
		return c.HandleError(ctx, systemError(err, "host_info"))
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	info := SystemInfo{
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
		Hostname:      hostname,
		Platform:      hostInfo.Platform,
		PlatformVer:   hostInfo.PlatformVersion,
		KernelVersion: hostInfo.KernelVersion,
		UpTime:        hostInfo.Uptime,
		AppStart:      c.startTime,
		AppUptime:     int64(time.Since(c.startTime).Seconds()),
		NumCPU:        runtime.NumCPU(),
		CPUBrand:      cpuid.CPU.BrandName,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		AVX2:          cpuid.CPU.Supports(cpuid.AVX2),
		GoVersion:     runtime.Version(),
	}
	return respond(ctx, http.StatusOK, info, "System information retrieved successfully")
}

// GetResourceInfo handles GET /system/resources.
func (c *Controller) GetResourceInfo(ctx echo.Context) error {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return c.HandleError(ctx, systemError(err, "virtual_memory"))
	}

	info := ResourceInfo{
		MemoryTotal: memInfo.Total,
		MemoryUsed:  memInfo.Used,
		MemoryUsage: memInfo.UsedPercent,
	}

	if pct, err := cpu.PercentWithContext(ctx.Request().Context(), cpuSampleWindow, false); err == nil && len(pct) > 0 {
		info.CPUUsage = pct[0]
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if procMem, err := proc.MemoryInfo(); err == nil && procMem != nil {
			info.ProcessMem = float64(procMem.RSS) / bytesPerMB
		}
		if procCPU, err := proc.CPUPercent(); err == nil {
			info.ProcessCPU = procCPU
		}
	}

	if path := c.uploadsPath(); path != "" {
		if usage, err := disk.Usage(path); err == nil {
			info.UploadsDisk = &DiskInfo{
				Path:      path,
				Total:     usage.Total,
				Free:      usage.Free,
				UsagePerc: usage.UsedPercent,
			}
		}
	}

	return respond(ctx, http.StatusOK, info, "Resource usage retrieved successfully")
}

// uploadsPath is the local image directory, empty for remote backends.
func (c *Controller) uploadsPath() string {
	if c.Settings == nil || c.Settings.Storage.Type != conf.StorageLocal {
		return ""
	}
	return c.Settings.Storage.Local.Path
}

func systemError(err error, op string) error {
	return errors.New(err).
		Component("api").
		Category(errors.CategorySystem).
		Context("operation", op).
		Build()
}
