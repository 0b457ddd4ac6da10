//go:build linux || darwin

package socketutil

import (
	"context"
	"net"
	"os"

	"github.com/codefionn/buildwire/internal/logger"
)

func detectServer(socketPath string) bool {
	if socketPath == "" {
		logger.Debug("No socket path configured, skipping detection")
		return false
	}

	stat, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("Socket file does not exist: %s", socketPath)
		} else {
			logger.Debug("Error checking socket file: %v", err)
		}
		return false
	}

	if stat.Mode()&os.ModeSocket == 0 {
		logger.Debug("File exists but is not a socket: %s", socketPath)
		return false
	}

	if err := probe(socketPath); err != nil {
		logger.Debug("Socket exists but connection failed: %v", err)
		return false
	}

	logger.Debug("Detected active server at: %s", socketPath)
	return true
}

func dialUnix(ctx context.Context, socketPath string) (net.Conn, error) {
	d := net.Dialer{Deadline: deadline(ctx)}
	return d.DialContext(ctx, "unix", socketPath)
}
