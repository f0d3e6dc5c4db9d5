package dgram

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ErrTimeout is returned by Client.Send when no reply arrives before the
// deadline.
var ErrTimeout = errors.New("dgram: request timed out")

// ErrDeadSocket is returned by Client.Send for a socket previously
// observed refusing a connection, without attempting it again; dead
// sockets are skipped for the lifetime of the Client.
var ErrDeadSocket = errors.New("dgram: socket previously observed dead")

// Client sends requests to discovered sockets, tracking which have gone
// dead for the lifetime of this Client value.
type Client struct {
	mu   sync.Mutex
	dead map[string]struct{}
}

// NewClient returns a ready-to-use Client with no dead sockets recorded.
func NewClient() *Client {
	return &Client{dead: make(map[string]struct{})}
}

func (c *Client) isDead(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dead[path]
	return ok
}

func (c *Client) markDead(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead[path] = struct{}{}
}

// Send delivers body to the socket at path. If timeout is 0 the call is
// fire-and-forget (no reply is awaited) — the shape dispatchers use, which
// never bind a local reply socket. Otherwise it binds a throwaway local
// datagram socket (AF_UNIX has no autobind, unlike AF_INET, so a reply needs
// somewhere to land), sends body, and blocks up to timeout for a single
// reply datagram, returning ErrTimeout if none arrives.
func (c *Client) Send(path, body string, timeout time.Duration) (string, error) {
	if c.isDead(path) {
		return "", ErrDeadSocket
	}
	if len(body) > maxDatagramSize {
		return "", ErrPayloadTooLarge
	}

	serverAddr := &net.UnixAddr{Name: path, Net: "unixgram"}

	if timeout <= 0 {
		conn, err := net.DialUnix("unixgram", nil, serverAddr)
		if err != nil {
			if isConnRefused(err) {
				c.markDead(path)
			}
			return "", err
		}
		defer conn.Close()
		_, err = conn.Write([]byte(body))
		if err != nil && isConnRefused(err) {
			c.markDead(path)
		}
		return "", err
	}

	localPath := filepath.Join(os.TempDir(), "jobphaser-client-"+uuid.NewString()+".reply")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: localPath, Net: "unixgram"})
	if err != nil {
		return "", err
	}
	defer func() {
		conn.Close()
		_ = os.Remove(localPath)
	}()

	if _, err := conn.WriteToUnix([]byte(body), serverAddr); err != nil {
		if isConnRefused(err) {
			c.markDead(path)
		}
		return "", err
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	buf := make([]byte, maxDatagramSize)
	n, _, err := conn.ReadFromUnix(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", ErrTimeout
		}
		return "", err
	}
	return string(buf[:n]), nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist)
}

// Ping sends the well-known ping body and reports whether the socket
// answered "pong" within timeout.
func (c *Client) Ping(path string, timeout time.Duration) bool {
	resp, err := c.Send(path, pingBody, timeout)
	return err == nil && resp == pongBody
}

// Cleanup pings every socket discovered under dir with extension ext and
// unlinks those that do not answer.
func (c *Client) Cleanup(dir, ext string, timeout time.Duration) error {
	paths, err := Discover(dir, ext)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !c.Ping(p, timeout) {
			_ = os.Remove(p)
		}
	}
	return nil
}
