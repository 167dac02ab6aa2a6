package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	bridgeerrors "kvmbridge/pkg/errors"

	"go.uber.org/zap"
)

// CoordinatorConfig holds polling tunables.
type CoordinatorConfig struct {
	Username     string
	Password     string
	Interval     time.Duration // time between refresh cycles
	FetchTimeout time.Duration // aggregate budget for one cycle's fetches
}

// DefaultCoordinatorConfig returns the polling defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Interval:     30 * time.Second,
		FetchTimeout: 10 * time.Second,
	}
}

// CoordinatorMetrics receives poll cycle outcomes.
type CoordinatorMetrics interface {
	CycleSucceeded(duration time.Duration)
	CycleFailed()
	Reauthenticated()
}

type nopCoordinatorMetrics struct{}

func (nopCoordinatorMetrics) CycleSucceeded(time.Duration) {}
func (nopCoordinatorMetrics) CycleFailed()                 {}
func (nopCoordinatorMetrics) Reauthenticated()             {}

// Coordinator polls the device on a fixed interval, producing one
// aggregated snapshot per cycle. It owns its client's credential state:
// a 401 mid-cycle after the device identity is known triggers exactly one
// client swap, reauthentication and cycle retry.
type Coordinator struct {
	cfg       CoordinatorConfig
	newClient ports.DeviceClientFactory
	collector ports.OSMetricsCollector
	snapshots ports.SnapshotRepository
	metrics   CoordinatorMetrics
	logger    *zap.SugaredLogger

	// mu guards client: control handlers read it concurrently while
	// Refresh swaps it during reauthentication.
	mu     sync.RWMutex
	client ports.DeviceClient

	// Refresh is serialized by Run; these fields are not otherwise
	// synchronized.
	deviceInfo domain.DeviceInfo
	lastOS     *domain.OSMetrics
	sshActive  bool
}

func NewCoordinator(
	cfg CoordinatorConfig,
	client ports.DeviceClient,
	newClient ports.DeviceClientFactory,
	collector ports.OSMetricsCollector,
	snapshots ports.SnapshotRepository,
	metrics CoordinatorMetrics,
	logger *zap.SugaredLogger,
) *Coordinator {
	if metrics == nil {
		metrics = nopCoordinatorMetrics{}
	}
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		newClient: newClient,
		collector: collector,
		snapshots: snapshots,
		metrics:   metrics,
		logger:    logger,
	}
}

// Client returns the coordinator's current device client. Control handlers
// share it so issued commands ride the same authenticated session.
func (c *Coordinator) Client() ports.DeviceClient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

func (c *Coordinator) setClient(client ports.DeviceClient) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

// Run polls until ctx is cancelled. The first cycle runs immediately.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.refreshAndPublish(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refreshAndPublish(ctx)
		}
	}
}

func (c *Coordinator) refreshAndPublish(ctx context.Context) {
	start := time.Now()
	snap, err := c.Refresh(ctx)
	if err != nil {
		c.metrics.CycleFailed()
		c.snapshots.SetError(err)
		c.logger.Warnw("refresh cycle failed", "error", err)
		return
	}
	c.metrics.CycleSucceeded(time.Since(start))
	c.snapshots.Set(snap)
}

// Refresh performs one full cycle: authenticate if needed, fetch every
// sub-resource, and collect SSH metrics when the device has SSH enabled.
// An auth failure mid-cycle is retried once with a fresh client; any other
// failure surfaces directly as an update-failed error.
func (c *Coordinator) Refresh(ctx context.Context) (domain.Snapshot, error) {
	client := c.Client()
	if client.Token() == "" {
		if err := client.Authenticate(ctx, c.cfg.Username, c.cfg.Password); err != nil {
			return domain.Snapshot{}, bridgeerrors.WrapUpdateFailed(err, "authentication failed")
		}
	}

	snap, err := c.fetch(ctx, client)
	if err == nil {
		return snap, nil
	}

	// Reauthenticate and retry the cycle exactly once, and only when the
	// device identity was previously established; a 401 before first
	// contact means bad credentials, not an expired session.
	if !errors.Is(err, domain.ErrDeviceAuthFailed) || !c.deviceInfo.Known() {
		return domain.Snapshot{}, bridgeerrors.WrapUpdateFailed(err, "refresh cycle failed")
	}

	c.logger.Infow("device session expired, reauthenticating")
	fresh := c.newClient()
	if authErr := fresh.Authenticate(ctx, c.cfg.Username, c.cfg.Password); authErr != nil {
		return domain.Snapshot{}, bridgeerrors.WrapUpdateFailed(authErr, "reauthentication failed")
	}
	c.setClient(fresh)
	c.metrics.Reauthenticated()

	snap, err = c.fetch(ctx, fresh)
	if err != nil {
		return domain.Snapshot{}, bridgeerrors.WrapUpdateFailed(err, "refresh after reauthentication failed")
	}
	return snap, nil
}

// fetch pulls the fixed, ordered set of sub-resources under one aggregate
// timeout and assembles the snapshot.
func (c *Coordinator) fetch(ctx context.Context, client ports.DeviceClient) (domain.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	var snap domain.Snapshot
	var err error

	if snap.Device, err = client.GetInfo(ctx); err != nil {
		return snap, err
	}
	if snap.Hardware, err = client.GetHardware(ctx); err != nil {
		return snap, err
	}
	if snap.Gpio, err = client.GetGPIO(ctx); err != nil {
		return snap, err
	}
	if snap.VirtualDevice, err = client.GetVirtualDeviceStatus(ctx); err != nil {
		return snap, err
	}
	if snap.SSH, err = client.GetSSHState(ctx); err != nil {
		return snap, err
	}
	if snap.Mdns, err = client.GetMdnsState(ctx); err != nil {
		return snap, err
	}
	if snap.HidMode, err = client.GetHidMode(ctx); err != nil {
		return snap, err
	}
	if snap.Oled, err = client.GetOledInfo(ctx); err != nil {
		return snap, err
	}
	if snap.Wifi, err = client.GetWifiStatus(ctx); err != nil {
		return snap, err
	}

	// Version info is optional on older firmware; never fail the cycle.
	if snap.AppVersion, err = client.GetAppVersion(ctx); err != nil {
		if isFatal(err) {
			return snap, err
		}
		c.logger.Debugw("application version unavailable", "error", err)
		snap.AppVersion = domain.AppVersion{Current: domain.ValueUnavailable, Latest: domain.ValueUnavailable}
	}

	if snap.Hdmi, err = client.GetHdmiState(ctx); err != nil {
		return snap, err
	}
	if snap.MouseJiggler, err = client.GetMouseJiggler(ctx); err != nil {
		return snap, err
	}
	if snap.Swap, err = client.GetSwapSize(ctx); err != nil {
		return snap, err
	}

	// Tailscale is an optional extension; never fail the cycle.
	if snap.Tailscale, err = client.GetTailscaleStatus(ctx); err != nil {
		if isFatal(err) {
			return snap, err
		}
		c.logger.Debugw("tailscale status unavailable", "error", err)
		snap.Tailscale = domain.TailscaleStatus{State: domain.ValueUnavailable}
	}

	c.fetchVirtualMedia(ctx, client, &snap)
	c.collectOSMetrics(ctx, &snap)

	snap.FetchedAt = time.Now()
	c.deviceInfo = snap.Device
	return snap, nil
}

// fetchVirtualMedia fills mounted-image and CD-ROM state. The device
// disables both features in hid_only mode, so they are only requested in
// normal mode, and individual failures fall back to empty defaults.
func (c *Coordinator) fetchVirtualMedia(ctx context.Context, client ports.DeviceClient, snap *domain.Snapshot) {
	snap.MountedImage = domain.MountedImage{File: ""}
	snap.Cdrom = domain.CdromStatus{Cdrom: 0}

	if snap.HidMode != domain.HidModeNormal {
		return
	}

	if img, err := client.GetMountedImage(ctx); err != nil {
		c.logger.Debugw("failed to get mounted image, using default", "error", err)
	} else {
		snap.MountedImage = img
	}

	if cdrom, err := client.GetCdromStatus(ctx); err != nil {
		c.logger.Debugw("failed to get cdrom status, using default", "error", err)
	} else {
		snap.Cdrom = cdrom
	}
}

// collectOSMetrics delegates to the SSH collector while the device reports
// SSH enabled. The OS snapshot is retained across cycles on collection
// failure, and cleared (with a single disconnect) when SSH turns off.
func (c *Coordinator) collectOSMetrics(ctx context.Context, snap *domain.Snapshot) {
	if !snap.SSH.Enabled {
		if c.sshActive {
			if err := c.collector.Disconnect(); err != nil {
				c.logger.Debugw("ssh disconnect failed", "error", err)
			}
			c.sshActive = false
		}
		c.lastOS = nil
		snap.OS = nil
		snap.SSHMetricsAvailable = false
		return
	}

	c.sshActive = true
	if os, err := c.collector.Collect(ctx); err != nil {
		c.logger.Warnw("ssh metrics collection failed", "error", err)
	} else {
		c.lastOS = &os
	}

	snap.OS = c.lastOS
	snap.SSHMetricsAvailable = c.lastOS != nil
}

// isFatal reports whether an optional sub-resource fetch error must still
// abort the cycle: auth failures feed the reauthentication path, and a
// spent aggregate budget makes further fetches pointless.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrDeviceAuthFailed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
