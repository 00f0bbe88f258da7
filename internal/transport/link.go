package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/danmuck/imgdl/internal/protocol/frame"
	"github.com/gorilla/websocket"
)

var ErrUnexpectedMessageType = errors.New("transport: unexpected websocket message type")

// Link moves whole frames between two endpoints.
type Link interface {
	ReadFrame(limits frame.Limits) (frame.Frame, error)
	WriteFrame(f frame.Frame, limits frame.Limits) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type streamLink struct {
	rwc          io.ReadWriteCloser
	r            *bufio.Reader
	writeTimeout time.Duration
}

// NewStreamLink frames messages over a byte stream such as a TCP connection.
func NewStreamLink(rwc io.ReadWriteCloser, writeTimeout time.Duration) Link {
	return &streamLink{rwc: rwc, r: bufio.NewReader(rwc), writeTimeout: writeTimeout}
}

func (l *streamLink) ReadFrame(limits frame.Limits) (frame.Frame, error) {
	return frame.ReadFrame(l.r, limits)
}

func (l *streamLink) WriteFrame(f frame.Frame, limits frame.Limits) error {
	if d, ok := l.rwc.(writeDeadliner); ok && l.writeTimeout > 0 {
		_ = d.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return frame.WriteFrame(l.rwc, f, limits)
}

func (l *streamLink) Close() error {
	return l.rwc.Close()
}

type websocketLink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebsocketLink carries one frame per binary websocket message.
func NewWebsocketLink(conn *websocket.Conn, writeTimeout time.Duration) Link {
	return &websocketLink{conn: conn, writeTimeout: writeTimeout}
}

func (l *websocketLink) ReadFrame(limits frame.Limits) (frame.Frame, error) {
	mt, data, err := l.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return frame.Frame{}, io.EOF
		}
		return frame.Frame{}, err
	}
	if mt != websocket.BinaryMessage {
		return frame.Frame{}, ErrUnexpectedMessageType
	}
	return frame.ReadFrame(bytes.NewReader(data), limits)
}

func (l *websocketLink) WriteFrame(f frame.Frame, limits frame.Limits) error {
	var buf bytes.Buffer
	if err := frame.WriteFrame(&buf, f, limits); err != nil {
		return err
	}
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (l *websocketLink) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = l.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	return l.conn.Close()
}
