package session

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/privmix/relay/internal/relayerr"
)

// Stream exposes a Session as a byte-stream boundary (component K):
// ReadLoop decodes inbound binary websocket messages into Frames and
// feeds them to the session's sequencer, and ordered frames go back out
// over the same connection as individual binary Frame messages.
//
// Grounded on the teacher's rpc/client/notify.go callback-over-channel
// shape, adapted to a single long-lived connection instead of a
// JSON-RPC notification feed.
type Stream struct {
	session *Session
	conn    *websocket.Conn
}

// NewStream pairs a Session with the websocket connection carrying its
// frames.
func NewStream(s *Session, conn *websocket.Conn) *Stream {
	return &Stream{session: s, conn: conn}
}

// WriteFrame sends f as a single binary websocket message.
func (st *Stream) WriteFrame(f *Frame) error {
	if err := st.conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		return relayerr.New(relayerr.KindTransient, "session.stream.write", err)
	}
	return nil
}

// ReadLoop reads binary websocket messages off the connection, decodes
// each as a Frame, and feeds it to the session's sequencer via
// IncomingSegment until the connection closes or ctx is done.
func (st *Stream) ReadLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgType, data, err := st.conn.ReadMessage()
		if err != nil {
			return relayerr.New(relayerr.KindTransient, "session.stream.read", err)
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f, err := DecodeFrame(data)
		if err != nil {
			return fmt.Errorf("session.stream: %w", err)
		}
		if err := st.session.IncomingSegment(f); err != nil {
			return fmt.Errorf("session.stream: %w", err)
		}
	}
}

// PumpOut drains ordered frames from the session and writes each to the
// connection until ctx is done or a read/write error occurs.
func (st *Stream) PumpOut(ctx context.Context) error {
	for {
		f, err := st.session.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, ok := err.(*FrameDiscardedError); ok {
				continue
			}
			return fmt.Errorf("session.stream: %w", err)
		}
		if err := st.WriteFrame(f); err != nil {
			return err
		}
	}
}
