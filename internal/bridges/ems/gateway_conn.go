package ems

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Gateway line protocol defaults.
const (
	// defaultBaudRate is the usual rate of EMS serial gateways.
	defaultBaudRate = 9600

	// maxLineLength bounds one hex-encoded frame line.
	maxLineLength = 256
)

// frameConn carries whole frames (CRC included) to and from a gateway.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// endpoint is a parsed gateway connection URL.
type endpoint struct {
	scheme string
	target string // device path, host:port or full websocket URL
	baud   int
}

// parseConnectionURL parses a gateway URL.
//
// Supported formats:
//   - "serial:///dev/ttyUSB0?baud=9600"
//   - "tcp://gateway.local:7000"
//   - "ws://gateway.local/ems" or "wss://..."
func parseConnectionURL(connURL string) (endpoint, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "serial":
		if u.Path == "" {
			return endpoint{}, fmt.Errorf("serial URL needs a device path")
		}
		baud := defaultBaudRate
		if b := u.Query().Get("baud"); b != "" {
			baud, err = strconv.Atoi(b)
			if err != nil || baud <= 0 {
				return endpoint{}, fmt.Errorf("invalid baud rate %q", b)
			}
		}
		return endpoint{scheme: "serial", target: u.Path, baud: baud}, nil
	case "tcp":
		if u.Host == "" {
			return endpoint{}, fmt.Errorf("tcp URL needs host:port")
		}
		return endpoint{scheme: "tcp", target: u.Host}, nil
	case "ws", "wss":
		return endpoint{scheme: u.Scheme, target: connURL}, nil
	default:
		return endpoint{}, fmt.Errorf("unsupported scheme %q (use serial, tcp, ws or wss)", u.Scheme)
	}
}

// dial opens the gateway connection described by ep.
func dial(ctx context.Context, ep endpoint) (frameConn, error) {
	switch ep.scheme {
	case "serial":
		mode := &serial.Mode{
			BaudRate: ep.baud,
			DataBits: 8, //nolint:mnd // 8N1
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(ep.target, mode)
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", ep.target, err)
		}
		return newLineConn(port), nil
	case "tcp":
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", ep.target)
		if err != nil {
			return nil, fmt.Errorf("dial tcp://%s: %w", ep.target, err)
		}
		return newLineConn(conn), nil
	case "ws", "wss":
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, ep.target, nil)
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("websocket dial %s (HTTP %d): %w", ep.target, resp.StatusCode, err)
			}
			return nil, fmt.Errorf("websocket dial %s: %w", ep.target, err)
		}
		return &wsConn{conn: conn}, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", ep.scheme)
	}
}

// lineConn speaks the hex line protocol over a byte stream: one frame per
// line, bytes as hex digits with optional spaces.
type lineConn struct {
	rw io.ReadWriteCloser
	r  *bufio.Reader
}

func newLineConn(rw io.ReadWriteCloser) *lineConn {
	return &lineConn{rw: rw, r: bufio.NewReaderSize(rw, maxLineLength)}
}

// ReadFrame returns the next non-empty line decoded from hex.
func (c *lineConn) ReadFrame() ([]byte, error) {
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		return DecodeHexFrame(line)
	}
}

// WriteFrame writes frame as one hex line.
func (c *lineConn) WriteFrame(frame []byte) error {
	_, err := io.WriteString(c.rw, EncodeHexFrame(frame)+"\n")
	return err
}

func (c *lineConn) Close() error {
	return c.rw.Close()
}

// wsConn carries one frame per websocket message. Text messages hold hex;
// binary messages hold raw frame bytes.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch msgType {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			if strings.TrimSpace(string(data)) == "" {
				continue
			}
			return DecodeHexFrame(string(data))
		}
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	//nolint:errcheck // Best-effort deadline; write error caught below
	c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(EncodeHexFrame(frame)))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// DecodeHexFrame parses a frame written as hex digits. Spaces are optional
// and anything after '#' is ignored.
func DecodeHexFrame(s string) ([]byte, error) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[:i]
	}
	s = strings.Join(strings.Fields(s), "")
	frame, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTelegram, err)
	}
	return frame, nil
}

// EncodeHexFrame renders a frame as space separated upper-case hex.
func EncodeHexFrame(frame []byte) string {
	var sb strings.Builder
	for i, b := range frame {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
