// Package uds provides the Unix domain socket transport for the local
// admin surface. The kernel listens; operator tooling on the same host
// dials.
package uds

import (
	"net"
	"os"

	"github.com/yanun0323/errors"
)

const unixNetwork = "unix"

var (
	// ErrEmptyPath is returned when a socket path is missing.
	ErrEmptyPath = errors.New("uds: empty socket path")
	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = errors.New("uds: already listening")
	// ErrNotListening is returned when Accept is called before Listen.
	ErrNotListening = errors.New("uds: not listening")
	// ErrPathNotSocket is returned when the path exists but is not a socket.
	ErrPathNotSocket = errors.New("uds: path exists and is not a socket")
)

// Client dials a Unix domain socket at a fixed path.
type Client struct {
	addr net.UnixAddr
}

// NewClient creates a client for the provided socket path.
func NewClient(path string) (*Client, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &Client{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (c *Client) Path() string {
	if c == nil {
		return ""
	}
	return c.addr.Name
}

// Dial opens a connection to the socket.
func (c *Client) Dial() (*net.UnixConn, error) {
	if c == nil || c.addr.Name == "" {
		return nil, ErrEmptyPath
	}
	return net.DialUnix(unixNetwork, nil, &c.addr)
}

// Server listens for connections on a Unix domain socket.
type Server struct {
	addr net.UnixAddr
	ln   *net.UnixListener
}

// NewServer creates a server for the provided socket path.
func NewServer(path string) (*Server, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	return &Server{addr: net.UnixAddr{Name: path, Net: unixNetwork}}, nil
}

// Path returns the configured socket path.
func (s *Server) Path() string {
	if s == nil {
		return ""
	}
	return s.addr.Name
}

// Listen binds the socket, unlinking a stale socket file first.
func (s *Server) Listen() error {
	if s == nil || s.addr.Name == "" {
		return ErrEmptyPath
	}
	if s.ln != nil {
		return ErrAlreadyListening
	}
	if err := removeStale(s.addr.Name); err != nil {
		return err
	}
	ln, err := net.ListenUnix(unixNetwork, &s.addr)
	if err != nil {
		return errors.Wrap(err, "listen unix")
	}
	ln.SetUnlinkOnClose(true)
	s.ln = ln
	return nil
}

// Accept waits for the next incoming connection.
func (s *Server) Accept() (*net.UnixConn, error) {
	if s == nil || s.ln == nil {
		return nil, ErrNotListening
	}
	return s.ln.AcceptUnix()
}

// Close stops the listener.
func (s *Server) Close() error {
	if s == nil || s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.ln = nil
	return err
}

// removeStale unlinks an abandoned socket file. Anything else at the
// path is left alone and reported.
func removeStale(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return ErrPathNotSocket
	}
	return os.Remove(path)
}
