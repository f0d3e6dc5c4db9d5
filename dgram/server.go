package dgram

import (
	"errors"
	"net"
	"os"
	"sync"

	"github.com/boshu2/jobphaser/internal/logging"
)

var log = logging.New("dgram")

// Handler processes one request body and optionally produces a reply. A
// false second return means "no reply" (fire-and-forget requests, or a
// handler that already delivered its response out of band).
type Handler func(req string) (resp string, ok bool)

// Server binds a SOCK_DGRAM Unix socket and serves requests with Handler,
// replying "pong" to "ping" when AllowPing is set.
type Server struct {
	path      string
	allowPing bool
	handle    Handler

	conn *net.UnixConn
	wg   sync.WaitGroup
}

// NewServer binds path (removing any stale socket file first) and starts
// serving in a background goroutine.
func NewServer(path string, allowPing bool, handle Handler) (*Server, error) {
	_ = os.Remove(path)
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{path: path, allowPing: allowPing, handle: handle, conn: conn}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := s.conn.ReadFromUnix(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn("datagram read failed", "path", s.path, "err", err)
			continue
		}
		if addr == nil || addr.Name == "" {
			// A unixgram peer with no bound address cannot receive a reply;
			// still run the handler for fire-and-forget requests.
			s.handleDatagram(buf[:n], nil)
			continue
		}
		body := append([]byte(nil), buf[:n]...)
		go s.handleDatagram(body, addr)
	}
}

func (s *Server) handleDatagram(body []byte, addr *net.UnixAddr) {
	req := string(body)
	if s.allowPing && req == pingBody {
		s.reply(addr, pongBody)
		return
	}
	resp, ok := s.handle(req)
	if !ok {
		return
	}
	s.reply(addr, resp)
}

func (s *Server) reply(addr *net.UnixAddr, body string) {
	if addr == nil {
		return
	}
	if len(body) > maxDatagramSize {
		log.Error("reply exceeds max datagram size, dropping", "path", s.path, "err", ErrPayloadTooLarge)
		return
	}
	if _, err := s.conn.WriteToUnix([]byte(body), addr); err != nil {
		log.Debug("datagram reply failed (peer likely gone)", "path", s.path, "err", err)
	}
}

// Close unlinks the socket file and stops serving. Safe to call once.
func (s *Server) Close() error {
	err := s.conn.Close()
	s.wg.Wait()
	_ = os.Remove(s.path)
	return err
}

// Path returns the socket's filesystem path.
func (s *Server) Path() string { return s.path }
