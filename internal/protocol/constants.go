package protocol

import "time"

// Timing constants from SPEC_FULL.md §4.4. ReconnectionGraceTime,
// ReconnectionShortGraceTime, and defaultUnresponsiveThreshold are only
// defaults: WithReconnectionGrace and WithUnresponsiveThreshold let a
// caller (cmd/vshostbridge wires its config.Config fields through them)
// override them per PersistentProtocol instance.
const (
	AcknowledgeTime              = 2000 * time.Millisecond
	TimeoutTime                  = 20000 * time.Millisecond
	ReconnectionGraceTime        = 3 * time.Hour
	ReconnectionShortGraceTime   = 5 * time.Minute
	KeepAliveSendTime            = 5000 * time.Millisecond
	ReplayRequestDebounce        = 10 * time.Second
	defaultUnresponsiveThreshold = 20 * time.Second
	minUnresponsiveRecheck       = 500 * time.Millisecond
)
