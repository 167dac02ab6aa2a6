package http

import (
	"net/http"

	"kvmbridge/internal/core/domain"
	"kvmbridge/internal/core/ports"
	"kvmbridge/pkg/errors"
	"kvmbridge/pkg/validation"

	"github.com/gin-gonic/gin"
)

// ControlHandler exposes device control commands. Commands go through the
// coordinator's client so they share its authenticated session.
type ControlHandler struct {
	client func() ports.DeviceClient
}

func NewControlHandler(client func() ports.DeviceClient) *ControlHandler {
	return &ControlHandler{client: client}
}

func (h *ControlHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/control/button", h.PushButton)
	api.POST("/control/paste", h.PasteText)
	api.POST("/control/reboot", h.Reboot)
	api.POST("/control/hdmi/reset", h.ResetHDMI)
	api.POST("/control/hid/reset", h.ResetHID)
	api.POST("/control/wol", h.WakeOnLAN)
	api.POST("/control/jiggler", h.SetMouseJiggler)
	api.POST("/control/mdns", h.SetMdns)
	api.POST("/control/ssh", h.SetSSH)
	api.POST("/control/hdmi", h.SetHdmi)
	api.POST("/control/oled", h.SetOledSleep)
}

func (h *ControlHandler) PushButton(c *gin.Context) {
	var req struct {
		Button     string `json:"button" binding:"required"`
		DurationMs int    `json:"duration_ms"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	button := domain.GpioButton(req.Button)
	if button != domain.GpioButtonPower && button != domain.GpioButtonReset {
		c.Error(errors.NewInvalidInputError("button must be power or reset"))
		return
	}
	if req.DurationMs == 0 {
		req.DurationMs = 100
	}
	if err := validation.ValidateButtonDuration(req.DurationMs); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	h.run(c, func() error {
		return h.client().PushButton(c.Request.Context(), button, req.DurationMs)
	})
}

func (h *ControlHandler) PasteText(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required,max=4096"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	h.run(c, func() error {
		return h.client().PasteText(c.Request.Context(), req.Text)
	})
}

func (h *ControlHandler) Reboot(c *gin.Context) {
	h.run(c, func() error {
		return h.client().Reboot(c.Request.Context())
	})
}

func (h *ControlHandler) ResetHDMI(c *gin.Context) {
	h.run(c, func() error {
		return h.client().ResetHDMI(c.Request.Context())
	})
}

func (h *ControlHandler) ResetHID(c *gin.Context) {
	h.run(c, func() error {
		return h.client().ResetHID(c.Request.Context())
	})
}

func (h *ControlHandler) WakeOnLAN(c *gin.Context) {
	var req struct {
		MAC string `json:"mac" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateMAC(req.MAC); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	h.run(c, func() error {
		return h.client().WakeOnLAN(c.Request.Context(), req.MAC)
	})
}

func (h *ControlHandler) SetMouseJiggler(c *gin.Context) {
	var req struct {
		Enabled bool   `json:"enabled"`
		Mode    string `json:"mode"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if req.Mode == "" {
		req.Mode = "relative"
	}
	if err := validation.ValidateJigglerMode(req.Mode); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	h.run(c, func() error {
		return h.client().SetMouseJiggler(c.Request.Context(), req.Enabled, req.Mode)
	})
}

func (h *ControlHandler) SetMdns(c *gin.Context) {
	h.setToggle(c, func(enabled bool) error {
		return h.client().SetMdnsState(c.Request.Context(), enabled)
	})
}

func (h *ControlHandler) SetSSH(c *gin.Context) {
	h.setToggle(c, func(enabled bool) error {
		return h.client().SetSSHState(c.Request.Context(), enabled)
	})
}

func (h *ControlHandler) SetHdmi(c *gin.Context) {
	h.setToggle(c, func(enabled bool) error {
		return h.client().SetHdmiState(c.Request.Context(), enabled)
	})
}

func (h *ControlHandler) SetOledSleep(c *gin.Context) {
	var req struct {
		SleepSeconds int `json:"sleep_seconds" binding:"min=0,max=86400"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	h.run(c, func() error {
		return h.client().SetOledSleep(c.Request.Context(), req.SleepSeconds)
	})
}

func (h *ControlHandler) setToggle(c *gin.Context, apply func(enabled bool) error) {
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	h.run(c, func() error {
		return apply(*req.Enabled)
	})
}

func (h *ControlHandler) run(c *gin.Context, fn func() error) {
	if err := fn(); err != nil {
		c.Error(errors.Wrap(err, errors.ErrCodeUpdateFailed, "device command failed", http.StatusBadGateway))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
