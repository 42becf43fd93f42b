// Package session implements the Session Sequencer (component F) and the
// Session Start sub-protocol plus runtime (component G): reordering an
// unordered, lossy frame stream into an ordered one, negotiating a session
// over the onion transport, and tracking its per-session counters.
//
// Grounded on the teacher's wire.MsgTx-style Serialize/Deserialize idiom
// (seen in backend/stakepoold/rpc/client/dcrd/calls.go's tx.Serialize/
// tx.Deserialize) applied to frames and Start messages, and on
// container/heap directly for the reorder buffer (see DESIGN.md).
package session

import (
	"encoding/binary"
	"fmt"

	"github.com/privmix/relay/internal/relayerr"
)

// FrameID is the 1-based frame sequence number; 0 is reserved and rejected.
type FrameID uint32

// SeqFlags packs the segment count (seq_len) a frame's payload was split
// into; the final segment of a frame carries the identical seq_len.
type SeqFlags uint8

// Frame is a single wire unit of the Session frame format: frame_id (u32) ‖
// seq_flags (u8) ‖ seq_idx (u8) ‖ payload.
type Frame struct {
	ID      FrameID
	Flags   SeqFlags
	SeqIdx  uint8
	Payload []byte
}

const frameHeaderLen = 4 + 1 + 1 // frame_id + seq_flags + seq_idx

// Encode serializes the frame to its wire form.
func (f *Frame) Encode() []byte {
	buf := make([]byte, frameHeaderLen+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(f.ID))
	buf[4] = byte(f.Flags)
	buf[5] = f.SeqIdx
	copy(buf[frameHeaderLen:], f.Payload)
	return buf
}

// DecodeFrame parses a wire buffer into a Frame. A zero frame_id is
// rejected as InvalidFrameId, per spec.md §3.
func DecodeFrame(b []byte) (*Frame, error) {
	if len(b) < frameHeaderLen {
		return nil, relayerr.New(relayerr.KindInputInvalid, "session.decode_frame",
			fmt.Errorf("buffer too short: %d bytes", len(b)))
	}
	id := FrameID(binary.BigEndian.Uint32(b[0:4]))
	if id == 0 {
		return nil, relayerr.New(relayerr.KindInputInvalid, "session.decode_frame", relayerr.ErrInvalidFrameID)
	}
	payload := make([]byte, len(b)-frameHeaderLen)
	copy(payload, b[frameHeaderLen:])
	return &Frame{ID: id, Flags: SeqFlags(b[4]), SeqIdx: b[5], Payload: payload}, nil
}

// SeqLen returns the segment count encoded in Flags.
func (f *Frame) SeqLen() uint8 { return uint8(f.Flags) }

// IsLastSegment reports whether this frame is the final segment of its
// multi-segment frame (seq_idx == seq_len-1).
func (f *Frame) IsLastSegment() bool {
	return f.SeqLen() == 0 || f.SeqIdx == f.SeqLen()-1
}
