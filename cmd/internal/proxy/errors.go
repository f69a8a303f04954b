package proxy

import "errors"

var (
	// ErrBackendUnreachable: the backend leg could not be established. The upgrade is rejected.
	ErrBackendUnreachable = errors.New("proxy: backend unreachable")

	// ErrProtocolViolation: malformed upgrade or an oversize message.
	ErrProtocolViolation = errors.New("proxy: protocol violation")

	// ErrConfigurationMissing: proxying is disabled or incompletely configured.
	ErrConfigurationMissing = errors.New("proxy: configuration missing")
)
