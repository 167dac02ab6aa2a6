package validation

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Jiggler modes accepted by the device HID subsystem.
const (
	JigglerModeAbsolute = "absolute"
	JigglerModeRelative = "relative"
)

// ValidateBaseURL validates a device base URL (http or https, host present).
func ValidateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}
	return nil
}

// ValidateMAC validates a MAC address for wake-on-LAN.
func ValidateMAC(mac string) error {
	mac = strings.TrimSpace(mac)
	if mac == "" {
		return fmt.Errorf("mac address is required")
	}
	if _, err := net.ParseMAC(mac); err != nil {
		return fmt.Errorf("invalid mac address: %w", err)
	}
	return nil
}

// ValidateJigglerMode validates a mouse jiggler mode.
func ValidateJigglerMode(mode string) error {
	switch mode {
	case JigglerModeAbsolute, JigglerModeRelative:
		return nil
	default:
		return fmt.Errorf("jiggler mode must be %q or %q", JigglerModeAbsolute, JigglerModeRelative)
	}
}

// ValidateButtonDuration validates a GPIO button press duration in milliseconds.
func ValidateButtonDuration(ms int) error {
	if ms < 100 || ms > 5000 {
		return fmt.Errorf("button duration must be between 100 and 5000 ms")
	}
	return nil
}
