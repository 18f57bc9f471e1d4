package dap

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opaqueref/visitor/visitor"
)

// Server accepts DAP client connections and runs one Session per
// connection, grounded on dapserver.Server (lisp/x/debugger/dapserver) but
// generalized from a single embedded process to arbitrarily many
// concurrent client connections against one shared *visitor.Visitor.
type Server struct {
	Addr string
	V    *visitor.Visitor
	Log  *logrus.Logger
}

// NewServer returns a Server listening for DAP clients on addr and serving
// them against v.
func NewServer(addr string, v *visitor.Visitor) *Server {
	return &Server{Addr: addr, V: v, Log: logrus.StandardLogger()}
}

// Serve listens on s.Addr and runs sessions until ctx is canceled or a
// fatal listener error occurs. Each accepted connection is handled in its
// own goroutine under an errgroup.Group so that one session's error
// doesn't take down the others, matching how the original server ran the
// DAP loop on its own goroutine, generalized to fan-out concurrency.
func (s *Server) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	group, gctx := errgroup.WithContext(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if gctx.Err() != nil {
				break
			}
			return err
		}
		group.Go(func() error {
			defer conn.Close()
			session := newSession(conn, s.V, s.Log)
			s.Log.WithField("session", session.ID).Info("dap: session connected")
			err := session.Run()
			s.Log.WithField("session", session.ID).Info("dap: session ended")
			return err
		})
	}
	return group.Wait()
}
