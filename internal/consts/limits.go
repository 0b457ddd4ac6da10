package consts

import "time"

// Buffer sizes
const (
	BufferSize1KB  = 1024
	BufferSize64KB = 64 * 1024
	BufferSize1MB  = 1024 * 1024

	// MaxFrameSize is the largest inbound message body accepted by the frame reader.
	MaxFrameSize = 16 * BufferSize1MB
)

// Timeouts
const (
	Timeout1Second   = 1 * time.Second
	Timeout2Seconds  = 2 * time.Second
	Timeout5Seconds  = 5 * time.Second
	Timeout10Seconds = 10 * time.Second
)

// Channel defaults
const (
	// DefaultReadPollInterval bounds each socket read so the dispatch loop notices shutdown.
	DefaultReadPollInterval = Timeout1Second
	// DefaultPropertiesTTL is the minimum age of a terminal snapshot before it is refreshed.
	DefaultPropertiesTTL = Timeout1Second
	// DefaultPropertiesTimeout bounds the wait for a terminal properties reply.
	DefaultPropertiesTimeout = Timeout5Seconds
	// DefaultCapabilityTimeout bounds the wait for a single terminal capability reply.
	DefaultCapabilityTimeout = Timeout5Seconds
	// DefaultMaxConnections limits concurrently served channels.
	DefaultMaxConnections = 16
	// ShutdownGrace is how long a server waits after broadcasting its shutdown notice.
	ShutdownGrace = 100 * time.Millisecond
)
