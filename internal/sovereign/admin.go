package sovereign

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/uds"
)

var adminJSON = sonic.ConfigFastest

// maxAdminLine caps one command line on the admin socket.
const maxAdminLine = 64 * 1024

// AdminServer serves sovereign commands over a local Unix socket, one
// JSON command per line, one JSON ack per line back. Authentication is
// identical to every other sovereign path; local access grants nothing
// by itself.
type AdminServer struct {
	srv   *uds.Server
	plane *Plane
}

// NewAdminServer binds the admin surface to a socket path.
func NewAdminServer(path string, plane *Plane) (*AdminServer, error) {
	srv, err := uds.NewServer(path)
	if err != nil {
		return nil, err
	}
	return &AdminServer{srv: srv, plane: plane}, nil
}

// Serve listens and handles connections until the context ends.
func (a *AdminServer) Serve(ctx context.Context) error {
	if err := a.srv.Listen(); err != nil {
		return errors.Wrap(err, "listen admin socket")
	}
	logs.Infof("sovereign admin socket at %s", a.srv.Path())

	go func() {
		<-ctx.Done()
		_ = a.srv.Close()
	}()

	for {
		conn, err := a.srv.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "accept admin connection")
		}
		go a.handle(ctx, conn)
	}
}

func (a *AdminServer) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxAdminLine)

	for scanner.Scan() {
		var cmd Command
		if err := adminJSON.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			logs.Warnf("admin socket: unparseable command, err: %+v", err)
			return
		}
		if cmd.Source == "" {
			cmd.Source = "admin-socket"
		}

		ack := a.plane.Submit(ctx, cmd)
		buf, err := adminJSON.Marshal(ack)
		if err != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := conn.Write(append(buf, '\n')); err != nil {
			return
		}
	}
}

// SubmitOver sends one command over an established connection and
// reads the ack. Operator tooling uses it with uds.Client.
func SubmitOver(conn net.Conn, cmd Command) (Ack, error) {
	buf, err := adminJSON.Marshal(cmd)
	if err != nil {
		return Ack{}, errors.Wrap(err, "marshal command")
	}
	if _, err := conn.Write(append(buf, '\n')); err != nil {
		return Ack{}, errors.Wrap(err, "write command")
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxAdminLine)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Ack{}, errors.Wrap(err, "read ack")
		}
		return Ack{}, errors.New("admin socket closed before ack")
	}

	var ack Ack
	if err := adminJSON.Unmarshal(scanner.Bytes(), &ack); err != nil {
		return Ack{}, errors.Wrap(err, "unmarshal ack")
	}
	return ack, nil
}
