package http

import (
	"errors"
	"net/http"
	"time"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	"kvmbridge/internal/infrastructure/monitoring"
	bridgeerrors "kvmbridge/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StateHandler serves the latest polled device snapshot.
type StateHandler struct {
	snapshots ports.SnapshotRepository
	health    *monitoring.HealthChecker
}

func NewStateHandler(snapshots ports.SnapshotRepository, health *monitoring.HealthChecker) *StateHandler {
	return &StateHandler{
		snapshots: snapshots,
		health:    health,
	}
}

// SetupRoutes registers the read-only endpoints. The health endpoint is
// registered unauthenticated in main; the state endpoints go behind auth.
func (h *StateHandler) SetupRoutes(api *gin.RouterGroup) {
	api.GET("/state", h.GetState)
	api.GET("/state/device", h.GetDevice)
	api.GET("/state/os", h.GetOSMetrics)
}

func (h *StateHandler) HealthCheck(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *StateHandler) GetState(c *gin.Context) {
	snap, err := h.snapshots.Latest()
	if err != nil {
		h.snapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(snap))
}

func (h *StateHandler) GetDevice(c *gin.Context) {
	snap, err := h.snapshots.Latest()
	if err != nil {
		h.snapshotError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ip":          snap.Device.IP,
		"mdns":        snap.Device.MDNS,
		"image":       snap.Device.Image,
		"application": snap.Device.Application,
		"device_key":  snap.Device.DeviceKey,
		"hardware":    snap.Hardware.Version,
	})
}

func (h *StateHandler) GetOSMetrics(c *gin.Context) {
	snap, err := h.snapshots.Latest()
	if err != nil {
		h.snapshotError(c, err)
		return
	}

	if !snap.SSHMetricsAvailable || snap.OS == nil {
		c.JSON(http.StatusOK, gin.H{"available": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"available":            true,
		"boot_time":            snap.OS.BootTime.Format(time.RFC3339),
		"memory_total_mb":      snap.OS.MemoryTotalMB,
		"memory_used_percent":  snap.OS.MemoryUsedPercent,
		"storage_total_mb":     snap.OS.StorageTotalMB,
		"storage_used_percent": snap.OS.StorageUsedPercent,
	})
}

func (h *StateHandler) snapshotError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNoSnapshot) {
		c.Error(bridgeerrors.NewNotFoundError("device snapshot"))
		return
	}
	c.Error(bridgeerrors.WrapUpdateFailed(err, "device state unavailable"))
}

func snapshotResponse(snap domain.Snapshot) gin.H {
	resp := gin.H{
		"device": gin.H{
			"ip":          snap.Device.IP,
			"mdns":        snap.Device.MDNS,
			"image":       snap.Device.Image,
			"application": snap.Device.Application,
			"device_key":  snap.Device.DeviceKey,
		},
		"hardware_version": snap.Hardware.Version,
		"gpio": gin.H{
			"power_led": snap.Gpio.PowerLED,
			"hdd_led":   snap.Gpio.HDDLED,
		},
		"virtual_device": gin.H{
			"network": snap.VirtualDevice.Network,
			"disk":    snap.VirtualDevice.Disk,
		},
		"ssh_enabled":  snap.SSH.Enabled,
		"mdns_enabled": snap.Mdns.Enabled,
		"hid_mode":     string(snap.HidMode),
		"oled": gin.H{
			"exist":         snap.Oled.Exist,
			"sleep_seconds": snap.Oled.SleepSeconds,
		},
		"wifi": gin.H{
			"supported": snap.Wifi.Supported,
			"connected": snap.Wifi.Connected,
		},
		"app_version": gin.H{
			"current": snap.AppVersion.Current,
			"latest":  snap.AppVersion.Latest,
		},
		"hdmi_enabled": snap.Hdmi.Enabled,
		"mouse_jiggler": gin.H{
			"enabled": snap.MouseJiggler.Enabled,
			"mode":    snap.MouseJiggler.Mode,
		},
		"swap_size_mb": snap.Swap.SizeMB,
		"tailscale": gin.H{
			"state":    snap.Tailscale.State,
			"login_ip": snap.Tailscale.LoginIP,
		},
		"mounted_image": snap.MountedImage.File,
		"cdrom":         snap.Cdrom.Cdrom,
		"fetched_at":    snap.FetchedAt.Format(time.RFC3339),
	}

	if snap.SSHMetricsAvailable && snap.OS != nil {
		resp["os"] = gin.H{
			"boot_time":            snap.OS.BootTime.Format(time.RFC3339),
			"memory_total_mb":      snap.OS.MemoryTotalMB,
			"memory_used_percent":  snap.OS.MemoryUsedPercent,
			"storage_total_mb":     snap.OS.StorageTotalMB,
			"storage_used_percent": snap.OS.StorageUsedPercent,
		}
	}

	return resp
}
