package ports

import (
	"context"
	"net/http"

	"kvmbridge/internal/core/domain"
)

// DeviceClient is the NanoKVM HTTP API surface the coordinator and the
// control handlers depend on. Implementations return *device.APIError for
// non-zero device codes and device.ErrAuthFailed when the token is rejected;
// transport errors pass through unwrapped.
type DeviceClient interface {
	Authenticate(ctx context.Context, username, password string) error
	Token() string

	GetInfo(ctx context.Context) (domain.DeviceInfo, error)
	GetHardware(ctx context.Context) (domain.HardwareInfo, error)
	GetGPIO(ctx context.Context) (domain.GpioState, error)
	GetVirtualDeviceStatus(ctx context.Context) (domain.VirtualDeviceStatus, error)
	GetSSHState(ctx context.Context) (domain.SSHState, error)
	GetMdnsState(ctx context.Context) (domain.MdnsState, error)
	GetHidMode(ctx context.Context) (domain.HidMode, error)
	GetOledInfo(ctx context.Context) (domain.OledInfo, error)
	GetWifiStatus(ctx context.Context) (domain.WifiStatus, error)
	GetAppVersion(ctx context.Context) (domain.AppVersion, error)
	GetHdmiState(ctx context.Context) (domain.HdmiState, error)
	GetMouseJiggler(ctx context.Context) (domain.MouseJigglerState, error)
	GetSwapSize(ctx context.Context) (domain.SwapState, error)
	GetTailscaleStatus(ctx context.Context) (domain.TailscaleStatus, error)
	GetMountedImage(ctx context.Context) (domain.MountedImage, error)
	GetCdromStatus(ctx context.Context) (domain.CdromStatus, error)

	PushButton(ctx context.Context, button domain.GpioButton, durationMs int) error
	PasteText(ctx context.Context, text string) error
	Reboot(ctx context.Context) error
	ResetHDMI(ctx context.Context) error
	ResetHID(ctx context.Context) error
	WakeOnLAN(ctx context.Context, mac string) error
	SetMouseJiggler(ctx context.Context, enabled bool, mode string) error
	SetMdnsState(ctx context.Context, enabled bool) error
	SetSSHState(ctx context.Context, enabled bool) error
	SetHdmiState(ctx context.Context, enabled bool) error
	SetOledSleep(ctx context.Context, seconds int) error
}

// DeviceClientFactory builds a fresh client against the same device.
// The coordinator uses it to swap clients during reauthentication.
type DeviceClientFactory func() DeviceClient

// OSMetricsCollector fetches OS-level metrics from the device over SSH.
type OSMetricsCollector interface {
	Collect(ctx context.Context) (domain.OSMetrics, error)
	Disconnect() error
}

// SnapshotRepository stores the latest aggregated device snapshot.
type SnapshotRepository interface {
	Set(snapshot domain.Snapshot)
	SetError(err error)
	Latest() (domain.Snapshot, error)
}

// ConnectionInfo is what the signaling relay needs to reach the device.
type ConnectionInfo struct {
	BaseURL  string
	Username string
	Password string
}

// ConnectionInfoProvider returns current device connection info, or false
// when none is configured.
type ConnectionInfoProvider func() (ConnectionInfo, bool)

// StreamAuthenticator obtains a session-scoped token for the video
// signaling websocket, independent of the coordinator's client token.
// The relay passes in the HTTP client it owns for that session.
type StreamAuthenticator interface {
	StreamToken(ctx context.Context, httpClient *http.Client, baseURL, username, password string) (string, error)
}
