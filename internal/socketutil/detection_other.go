//go:build !linux && !darwin

package socketutil

import (
	"context"
	"net"

	"github.com/codefionn/buildwire/internal/logger"
)

func detectServer(socketPath string) bool {
	logger.Debug("Server detection skipped: unix sockets not supported on this platform")
	return false
}

func dialUnix(ctx context.Context, socketPath string) (net.Conn, error) {
	return nil, ErrUnsupported
}
