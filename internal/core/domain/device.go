package domain

import "time"

// HidMode is the device USB-HID operating mode.
type HidMode string

const (
	// HidModeNormal enables full passthrough including virtual media.
	HidModeNormal HidMode = "normal"
	// HidModeOnly restricts the device to keyboard/mouse emulation; the
	// device disables virtual-media features in this mode.
	HidModeOnly HidMode = "hid_only"
)

// GpioButton identifies a front-panel button driven over GPIO.
type GpioButton string

const (
	GpioButtonPower GpioButton = "power"
	GpioButtonReset GpioButton = "reset"
)

// ValueUnavailable marks an optional sub-resource whose fetch failed.
const ValueUnavailable = "unavailable"

// DeviceInfo identifies the KVM device.
type DeviceInfo struct {
	IP          string
	MDNS        string
	Image       string
	Application string
	DeviceKey   string
}

// Known reports whether the device identity has been established, as
// opposed to the placeholder used before first successful contact.
func (d DeviceInfo) Known() bool {
	return d.Application != "" && d.Application != ValueUnavailable
}

type HardwareInfo struct {
	Version string
}

// GpioState reports the target host's LED lines as seen by the device.
type GpioState struct {
	PowerLED bool
	HDDLED   bool
}

type VirtualDeviceStatus struct {
	Network bool
	Disk    bool
}

type SSHState struct {
	Enabled bool
}

type MdnsState struct {
	Enabled bool
}

type OledInfo struct {
	Exist        bool
	SleepSeconds int
}

type WifiStatus struct {
	Supported bool
	Connected bool
}

type HdmiState struct {
	Enabled bool
}

type MouseJigglerState struct {
	Enabled bool
	Mode    string
}

// SwapState is the configured swap size in MB; 0 means disabled.
type SwapState struct {
	SizeMB int
}

type TailscaleStatus struct {
	State   string
	LoginIP string
}

type AppVersion struct {
	Current string
	Latest  string
}

type MountedImage struct {
	File string
}

type CdromStatus struct {
	Cdrom int64
}

// OSMetrics is the SSH-derived snapshot of the device OS.
type OSMetrics struct {
	BootTime           time.Time
	MemoryTotalMB      float64
	MemoryUsedPercent  float64
	StorageTotalMB     float64
	StorageUsedPercent float64
}

// Snapshot aggregates one poll cycle's device state. Every field is
// overwritten wholesale on each cycle; OS is retained independently
// between cycles while SSH stays enabled.
type Snapshot struct {
	Device        DeviceInfo
	Hardware      HardwareInfo
	Gpio          GpioState
	VirtualDevice VirtualDeviceStatus
	SSH           SSHState
	Mdns          MdnsState
	HidMode       HidMode
	Oled          OledInfo
	Wifi          WifiStatus
	AppVersion    AppVersion
	Hdmi          HdmiState
	MouseJiggler  MouseJigglerState
	Swap          SwapState
	Tailscale     TailscaleStatus
	MountedImage  MountedImage
	Cdrom         CdromStatus

	// SSHMetricsAvailable flips on the first successful SSH collection and
	// signals downstream consumers that OS-derived fields can be surfaced.
	SSHMetricsAvailable bool
	OS                  *OSMetrics

	FetchedAt time.Time
}
