package domain

import "errors"

var (
	// ErrDeviceAuthFailed marks rejected device credentials or an expired
	// token; the coordinator's reauthentication path keys off it.
	ErrDeviceAuthFailed = errors.New("device authentication failed")

	ErrConnectionInfoMissing = errors.New("missing device connection info")
	ErrRelayNotReady         = errors.New("signaling relay is not started")
	ErrSessionExists         = errors.New("signaling session already exists")
	ErrNoSnapshot            = errors.New("no device snapshot available yet")
)
