package reliability

import (
	"context"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	"kvmbridge/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// CommandMetrics receives per-command outcomes.
type CommandMetrics interface {
	RecordDeviceCommand(command string, err error)
}

type nopCommandMetrics struct{}

func (nopCommandMetrics) RecordDeviceCommand(string, error) {}

// DeviceClientWrapper guards control commands with a circuit breaker so a
// wedged device fails requests fast instead of tying up HTTP workers.
// It resolves the underlying client per call because the coordinator swaps
// clients on reauthentication; the breaker state persists across swaps.
// Read paths pass through untouched: the coordinator already owns retry
// and reauthentication for those, and a tripped breaker must not block
// polling from observing the device recover.
type DeviceClientWrapper struct {
	next    func() ports.DeviceClient
	breaker *circuitbreaker.CircuitBreaker
	metrics CommandMetrics
	logger  *zap.SugaredLogger
}

func NewDeviceClientWrapper(
	next func() ports.DeviceClient,
	cbConfig circuitbreaker.Config,
	metrics CommandMetrics,
	logger *zap.SugaredLogger,
) *DeviceClientWrapper {
	if metrics == nil {
		metrics = nopCommandMetrics{}
	}

	w := &DeviceClientWrapper{
		next:    next,
		breaker: circuitbreaker.New(cbConfig),
		metrics: metrics,
		logger:  logger,
	}

	w.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("device command circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return w
}

func (w *DeviceClientWrapper) Authenticate(ctx context.Context, username, password string) error {
	return w.next().Authenticate(ctx, username, password)
}

func (w *DeviceClientWrapper) Token() string { return w.next().Token() }

func (w *DeviceClientWrapper) GetInfo(ctx context.Context) (domain.DeviceInfo, error) {
	return w.next().GetInfo(ctx)
}

func (w *DeviceClientWrapper) GetHardware(ctx context.Context) (domain.HardwareInfo, error) {
	return w.next().GetHardware(ctx)
}

func (w *DeviceClientWrapper) GetGPIO(ctx context.Context) (domain.GpioState, error) {
	return w.next().GetGPIO(ctx)
}

func (w *DeviceClientWrapper) GetVirtualDeviceStatus(ctx context.Context) (domain.VirtualDeviceStatus, error) {
	return w.next().GetVirtualDeviceStatus(ctx)
}

func (w *DeviceClientWrapper) GetSSHState(ctx context.Context) (domain.SSHState, error) {
	return w.next().GetSSHState(ctx)
}

func (w *DeviceClientWrapper) GetMdnsState(ctx context.Context) (domain.MdnsState, error) {
	return w.next().GetMdnsState(ctx)
}

func (w *DeviceClientWrapper) GetHidMode(ctx context.Context) (domain.HidMode, error) {
	return w.next().GetHidMode(ctx)
}

func (w *DeviceClientWrapper) GetOledInfo(ctx context.Context) (domain.OledInfo, error) {
	return w.next().GetOledInfo(ctx)
}

func (w *DeviceClientWrapper) GetWifiStatus(ctx context.Context) (domain.WifiStatus, error) {
	return w.next().GetWifiStatus(ctx)
}

func (w *DeviceClientWrapper) GetAppVersion(ctx context.Context) (domain.AppVersion, error) {
	return w.next().GetAppVersion(ctx)
}

func (w *DeviceClientWrapper) GetHdmiState(ctx context.Context) (domain.HdmiState, error) {
	return w.next().GetHdmiState(ctx)
}

func (w *DeviceClientWrapper) GetMouseJiggler(ctx context.Context) (domain.MouseJigglerState, error) {
	return w.next().GetMouseJiggler(ctx)
}

func (w *DeviceClientWrapper) GetSwapSize(ctx context.Context) (domain.SwapState, error) {
	return w.next().GetSwapSize(ctx)
}

func (w *DeviceClientWrapper) GetTailscaleStatus(ctx context.Context) (domain.TailscaleStatus, error) {
	return w.next().GetTailscaleStatus(ctx)
}

func (w *DeviceClientWrapper) GetMountedImage(ctx context.Context) (domain.MountedImage, error) {
	return w.next().GetMountedImage(ctx)
}

func (w *DeviceClientWrapper) GetCdromStatus(ctx context.Context) (domain.CdromStatus, error) {
	return w.next().GetCdromStatus(ctx)
}

func (w *DeviceClientWrapper) exec(command string, fn func() error) error {
	err := w.breaker.Execute(fn)
	w.metrics.RecordDeviceCommand(command, err)
	if err != nil {
		w.logger.Warnw("device command failed", "command", command, "error", err)
	}
	return err
}

func (w *DeviceClientWrapper) PushButton(ctx context.Context, button domain.GpioButton, durationMs int) error {
	return w.exec("push_button", func() error {
		return w.next().PushButton(ctx, button, durationMs)
	})
}

func (w *DeviceClientWrapper) PasteText(ctx context.Context, text string) error {
	return w.exec("paste_text", func() error {
		return w.next().PasteText(ctx, text)
	})
}

func (w *DeviceClientWrapper) Reboot(ctx context.Context) error {
	return w.exec("reboot", func() error {
		return w.next().Reboot(ctx)
	})
}

func (w *DeviceClientWrapper) ResetHDMI(ctx context.Context) error {
	return w.exec("reset_hdmi", func() error {
		return w.next().ResetHDMI(ctx)
	})
}

func (w *DeviceClientWrapper) ResetHID(ctx context.Context) error {
	return w.exec("reset_hid", func() error {
		return w.next().ResetHID(ctx)
	})
}

func (w *DeviceClientWrapper) WakeOnLAN(ctx context.Context, mac string) error {
	return w.exec("wake_on_lan", func() error {
		return w.next().WakeOnLAN(ctx, mac)
	})
}

func (w *DeviceClientWrapper) SetMouseJiggler(ctx context.Context, enabled bool, mode string) error {
	return w.exec("set_mouse_jiggler", func() error {
		return w.next().SetMouseJiggler(ctx, enabled, mode)
	})
}

func (w *DeviceClientWrapper) SetMdnsState(ctx context.Context, enabled bool) error {
	return w.exec("set_mdns", func() error {
		return w.next().SetMdnsState(ctx, enabled)
	})
}

func (w *DeviceClientWrapper) SetSSHState(ctx context.Context, enabled bool) error {
	return w.exec("set_ssh", func() error {
		return w.next().SetSSHState(ctx, enabled)
	})
}

func (w *DeviceClientWrapper) SetHdmiState(ctx context.Context, enabled bool) error {
	return w.exec("set_hdmi", func() error {
		return w.next().SetHdmiState(ctx, enabled)
	})
}

func (w *DeviceClientWrapper) SetOledSleep(ctx context.Context, seconds int) error {
	return w.exec("set_oled_sleep", func() error {
		return w.next().SetOledSleep(ctx, seconds)
	})
}
