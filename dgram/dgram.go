// Package dgram implements the Unix-domain datagram socket transport that
// underlies the API server, the event dispatchers, and instance
// discovery. Sockets live in a shared directory and are named
// "<unique-id><extension>"; the extension partitions namespaces (.api,
// .transition-listener, .output-listener).
package dgram

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	maxDatagramSize = 64 * 1024
	pingBody        = "ping"
	pongBody        = "pong"
)

// ErrPayloadTooLarge is reported (not fatal) when a caller attempts to
// send a datagram exceeding maxDatagramSize.
var ErrPayloadTooLarge = errors.New("dgram: payload exceeds maximum datagram size")

// SocketPath builds the conventional "<dir>/<id><ext>" path for a new
// socket. ext must include the leading dot.
func SocketPath(dir, ext string) string {
	return filepath.Join(dir, uuid.NewString()+ext)
}

// Discover lists every socket in dir whose name carries extension ext,
// returning full paths.
func Discover(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ext {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}
