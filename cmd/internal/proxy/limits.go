package proxy

import "time"

const (
	// MaxMessageBytes caps one relayed message. Larger messages tear the session down.
	MaxMessageBytes = 64 << 10 // 64 KiB

	DefaultPrefix       = "/collab-ws/"
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second

	defaultHeartbeatTimeout = 5 * time.Second
	maxPingFailures         = 3
)
