package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"kvmbridge/internal/core/domain"
	bridgeerrors "kvmbridge/pkg/errors"

	"go.uber.org/zap"
)

// TokenCookie is the cookie name the device expects on authenticated calls.
const TokenCookie = "nano-kvm-token"

// ErrAuthFailed indicates rejected credentials or an expired token.
var ErrAuthFailed = domain.ErrDeviceAuthFailed

// APIError is a device-level failure: HTTP round-trip succeeded but the
// response envelope carried a non-zero code.
type APIError struct {
	Code     int
	Msg      string
	Endpoint string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("device api error on %s: code=%d msg=%q", e.Endpoint, e.Code, e.Msg)
}

// HTTPError is a non-2xx, non-401 HTTP response from the device.
type HTTPError struct {
	Status   int
	Endpoint string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("device http error on %s: status=%d", e.Endpoint, e.Status)
}

// envelope is the device's uniform response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client talks to the NanoKVM HTTP API. It owns its bearer token; a 401
// from the device invalidates it implicitly and surfaces as ErrAuthFailed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string, requestTimeout time.Duration, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// BaseURL returns the device base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the current session token, empty when unauthenticated.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Authenticate logs in and stores the resulting session token.
func (c *Client) Authenticate(ctx context.Context, username, password string) error {
	var data struct {
		Token string `json:"token"`
	}
	req := map[string]string{"username": username, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", req, &data); err != nil {
		return err
	}
	if data.Token == "" {
		return fmt.Errorf("%w: login response carried no token", ErrAuthFailed)
	}
	c.setToken(data.Token)
	return nil
}

func (c *Client) GetInfo(ctx context.Context) (domain.DeviceInfo, error) {
	var data struct {
		IP          string `json:"ip"`
		MDNS        string `json:"mdns"`
		Image       string `json:"image"`
		Application string `json:"application"`
		DeviceKey   string `json:"deviceKey"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/info", nil, &data); err != nil {
		return domain.DeviceInfo{}, err
	}
	return domain.DeviceInfo{
		IP:          data.IP,
		MDNS:        data.MDNS,
		Image:       data.Image,
		Application: data.Application,
		DeviceKey:   data.DeviceKey,
	}, nil
}

func (c *Client) GetHardware(ctx context.Context) (domain.HardwareInfo, error) {
	var data struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/hardware", nil, &data); err != nil {
		return domain.HardwareInfo{}, err
	}
	return domain.HardwareInfo{Version: data.Version}, nil
}

func (c *Client) GetGPIO(ctx context.Context) (domain.GpioState, error) {
	var data struct {
		Pwr bool `json:"pwr"`
		HDD bool `json:"hdd"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/gpio", nil, &data); err != nil {
		return domain.GpioState{}, err
	}
	return domain.GpioState{PowerLED: data.Pwr, HDDLED: data.HDD}, nil
}

func (c *Client) GetVirtualDeviceStatus(ctx context.Context) (domain.VirtualDeviceStatus, error) {
	var data struct {
		Network bool `json:"network"`
		Disk    bool `json:"disk"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/device/virtual", nil, &data); err != nil {
		return domain.VirtualDeviceStatus{}, err
	}
	return domain.VirtualDeviceStatus{Network: data.Network, Disk: data.Disk}, nil
}

func (c *Client) GetSSHState(ctx context.Context) (domain.SSHState, error) {
	var data struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/ssh", nil, &data); err != nil {
		return domain.SSHState{}, err
	}
	return domain.SSHState{Enabled: data.Enabled}, nil
}

func (c *Client) GetMdnsState(ctx context.Context) (domain.MdnsState, error) {
	var data struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/mdns", nil, &data); err != nil {
		return domain.MdnsState{}, err
	}
	return domain.MdnsState{Enabled: data.Enabled}, nil
}

func (c *Client) GetHidMode(ctx context.Context) (domain.HidMode, error) {
	var data struct {
		Mode string `json:"mode"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/hid/mode", nil, &data); err != nil {
		return "", err
	}
	return domain.HidMode(data.Mode), nil
}

func (c *Client) GetOledInfo(ctx context.Context) (domain.OledInfo, error) {
	var data struct {
		Exist bool `json:"exist"`
		Sleep int  `json:"sleep"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/oled", nil, &data); err != nil {
		return domain.OledInfo{}, err
	}
	return domain.OledInfo{Exist: data.Exist, SleepSeconds: data.Sleep}, nil
}

func (c *Client) GetWifiStatus(ctx context.Context) (domain.WifiStatus, error) {
	var data struct {
		Supported bool `json:"supported"`
		Connected bool `json:"connected"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/network/wifi", nil, &data); err != nil {
		return domain.WifiStatus{}, err
	}
	return domain.WifiStatus{Supported: data.Supported, Connected: data.Connected}, nil
}

func (c *Client) GetAppVersion(ctx context.Context) (domain.AppVersion, error) {
	var data struct {
		Current string `json:"current"`
		Latest  string `json:"latest"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/application/version", nil, &data); err != nil {
		return domain.AppVersion{}, err
	}
	return domain.AppVersion{Current: data.Current, Latest: data.Latest}, nil
}

func (c *Client) GetHdmiState(ctx context.Context) (domain.HdmiState, error) {
	var data struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/hdmi", nil, &data); err != nil {
		return domain.HdmiState{}, err
	}
	return domain.HdmiState{Enabled: data.Enabled}, nil
}

func (c *Client) GetMouseJiggler(ctx context.Context) (domain.MouseJigglerState, error) {
	var data struct {
		Enabled bool   `json:"enabled"`
		Mode    string `json:"mode"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/hid/jiggler", nil, &data); err != nil {
		return domain.MouseJigglerState{}, err
	}
	return domain.MouseJigglerState{Enabled: data.Enabled, Mode: data.Mode}, nil
}

func (c *Client) GetSwapSize(ctx context.Context) (domain.SwapState, error) {
	var data struct {
		Size int `json:"size"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/vm/swap", nil, &data); err != nil {
		return domain.SwapState{}, err
	}
	return domain.SwapState{SizeMB: data.Size}, nil
}

func (c *Client) GetTailscaleStatus(ctx context.Context) (domain.TailscaleStatus, error) {
	var data struct {
		State   string `json:"state"`
		LoginIP string `json:"loginIp"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/extensions/tailscale/status", nil, &data); err != nil {
		return domain.TailscaleStatus{}, err
	}
	return domain.TailscaleStatus{State: data.State, LoginIP: data.LoginIP}, nil
}

func (c *Client) GetMountedImage(ctx context.Context) (domain.MountedImage, error) {
	var data struct {
		File string `json:"file"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/storage/image/mounted", nil, &data); err != nil {
		return domain.MountedImage{}, err
	}
	return domain.MountedImage{File: data.File}, nil
}

func (c *Client) GetCdromStatus(ctx context.Context) (domain.CdromStatus, error) {
	var data struct {
		Cdrom int64 `json:"cdrom"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/storage/cdrom", nil, &data); err != nil {
		return domain.CdromStatus{}, err
	}
	return domain.CdromStatus{Cdrom: data.Cdrom}, nil
}

func (c *Client) PushButton(ctx context.Context, button domain.GpioButton, durationMs int) error {
	req := map[string]interface{}{"type": string(button), "duration": durationMs}
	return c.call(ctx, http.MethodPost, "/api/vm/gpio", req, nil)
}

func (c *Client) PasteText(ctx context.Context, text string) error {
	return c.call(ctx, http.MethodPost, "/api/hid/paste", map[string]string{"content": text}, nil)
}

func (c *Client) Reboot(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/vm/system/reboot", nil, nil)
}

func (c *Client) ResetHDMI(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/vm/hdmi/reset", nil, nil)
}

func (c *Client) ResetHID(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/hid/reset", nil, nil)
}

func (c *Client) WakeOnLAN(ctx context.Context, mac string) error {
	return c.call(ctx, http.MethodPost, "/api/network/wol", map[string]string{"mac": mac}, nil)
}

func (c *Client) SetMouseJiggler(ctx context.Context, enabled bool, mode string) error {
	req := map[string]interface{}{"enabled": enabled, "mode": mode}
	return c.call(ctx, http.MethodPost, "/api/hid/jiggler", req, nil)
}

func (c *Client) SetMdnsState(ctx context.Context, enabled bool) error {
	return c.call(ctx, http.MethodPost, "/api/vm/mdns", map[string]bool{"enabled": enabled}, nil)
}

func (c *Client) SetSSHState(ctx context.Context, enabled bool) error {
	return c.call(ctx, http.MethodPost, "/api/vm/ssh", map[string]bool{"enabled": enabled}, nil)
}

func (c *Client) SetHdmiState(ctx context.Context, enabled bool) error {
	return c.call(ctx, http.MethodPost, "/api/vm/hdmi", map[string]bool{"enabled": enabled}, nil)
}

func (c *Client) SetOledSleep(ctx context.Context, seconds int) error {
	return c.call(ctx, http.MethodPost, "/api/vm/oled", map[string]int{"sleep": seconds}, nil)
}

// call performs one API round-trip and decodes the envelope's data into out.
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.AddCookie(&http.Cookie{Name: TokenCookie, Value: token})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s returned status %d", ErrAuthFailed, path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Endpoint: path}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeProtocolMalformed,
			fmt.Sprintf("undecodable response from %s", path), http.StatusBadGateway)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg, Endpoint: path}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return bridgeerrors.Wrap(err, bridgeerrors.ErrCodeProtocolMalformed,
				fmt.Sprintf("undecodable data from %s", path), http.StatusBadGateway)
		}
	}
	return nil
}
