// Package transport connects the codec to the APNs gateway and feedback
// services over TLS.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"apns-workers/internal/apns/feedback"
	apperrors "apns-workers/internal/common/errors"
)

// Sink accepts one complete frame per notification. No response is read.
type Sink interface {
	Send(ctx context.Context, frame []byte) error
}

// DialFunc opens a connection to addr.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// TLSDialer returns a DialFunc for the given client certificate config.
func TLSDialer(cfg *tls.Config, timeout time.Duration) DialFunc {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{
			NetDialer: &net.Dialer{Timeout: timeout},
			Config:    cfg,
		}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// LoadTLSConfig builds a client TLS config from a PEM certificate and key.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Gateway is a Sink holding one lazily dialed connection. A failed write
// drops the connection so the next Send redials.
type Gateway struct {
	addr string
	dial DialFunc

	mu   sync.Mutex
	conn net.Conn
}

// NewGateway returns a Gateway for addr.
func NewGateway(addr string, dial DialFunc) *Gateway {
	return &Gateway{addr: addr, dial: dial}
}

func (g *Gateway) Send(ctx context.Context, frame []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		conn, err := g.dial(ctx, g.addr)
		if err != nil {
			return apperrors.NewGatewayWriteFailedError(fmt.Errorf("dial %s: %w", g.addr, err))
		}
		g.conn = conn
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = g.conn.SetWriteDeadline(deadline)
	} else {
		_ = g.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := g.conn.Write(frame); err != nil {
		_ = g.conn.Close()
		g.conn = nil
		return apperrors.NewGatewayWriteFailedError(err)
	}
	return nil
}

// Close releases the connection, if any.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

// FeedbackConn is an open feedback connection exposed as a chunk source.
type FeedbackConn struct {
	*feedback.ReaderSource
	conn net.Conn
}

// OpenFeedback dials the feedback service. The service writes its records
// and closes the connection, which the source reports as io.EOF.
func OpenFeedback(ctx context.Context, addr string, dial DialFunc, readSize int) (*FeedbackConn, error) {
	conn, err := dial(ctx, addr)
	if err != nil {
		return nil, apperrors.NewFeedbackReadFailedError(fmt.Errorf("dial %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	return &FeedbackConn{
		ReaderSource: feedback.NewReaderSource(conn, readSize),
		conn:         conn,
	}, nil
}

// Close closes the underlying connection.
func (f *FeedbackConn) Close() error {
	return f.conn.Close()
}
