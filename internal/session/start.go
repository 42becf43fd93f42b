package session

import (
	"encoding/binary"
	"errors"
	"fmt"

	relaycrypto "github.com/privmix/relay/internal/crypto"
	"github.com/privmix/relay/internal/relayerr"
)

// surbWireSize is the per-SURB reservation a caller must leave room for in
// the onion payload: enough to reference a pre-built reply block (one
// Sphinx shared secret plus the ack-challenge needed to resolve it).
const surbWireSize = 32 + 20

// MaxSurbsInPacket bounds how many SURBs a single packet may carry
// alongside a Start message, matching spec.md §4.5's "KeepAlive must
// allow the maximum SURBs."
const MaxSurbsInPacket = 5

// FitsWithSurbs reports whether an encoded Start message leaves room for
// at least minSurbs SURBs within one onion payload (spec.md §4.5, §8
// property 7).
func FitsWithSurbs(encoded []byte, minSurbs int) bool {
	return len(encoded)+minSurbs*surbWireSize <= relaycrypto.PayloadSize
}

// startProtocolVersion is the single version byte every Start message
// begins with (spec.md §4.5: "discriminant byte follows a 1-byte version
// = 0x01").
const startProtocolVersion = 0x01

// Discriminant identifies which of the four Start messages follows the
// version byte.
type Discriminant uint8

const (
	DiscStartSession       Discriminant = 0
	DiscSessionEstablished Discriminant = 1
	DiscSessionError       Discriminant = 2
	DiscKeepAlive          Discriminant = 3
)

// Capability is a single negotiable Session feature bit.
type Capability uint32

const (
	CapSegmentation Capability = 1 << iota
	CapRetransmissionAck
	CapRetransmissionNack
	CapNoRateControl
)

// Capabilities is a bitset of Capability flags.
type Capabilities uint32

// Has reports whether cap is set.
func (c Capabilities) Has(cap Capability) bool { return c&Capabilities(cap) != 0 }

// Negotiate performs the bitwise AND the spec prescribes: "Negotiation is
// a bitwise AND of entry's request and exit's supported set."
func Negotiate(requested, supported Capabilities) Capabilities { return requested & supported }

// SessionTarget is what the exit node should do with a session's traffic.
// Only the TCP-relay target from spec.md's Open Questions resolution (see
// DESIGN.md) is implemented; UDP/Plain variants are not required by any
// SPEC_FULL.md component.
type SessionTarget struct {
	Host string
	Port uint16
}

// SessionID identifies a session by its reserved application tag and the
// sender pseudonym it arrived under, unique per pseudonym (spec.md §4.5).
type SessionID struct {
	Tag       uint64
	Pseudonym [32]byte
}

// StartErrorReason enumerates why a StartSession was refused.
type StartErrorReason uint8

const (
	ReasonNoSlotsAvailable StartErrorReason = iota
	ReasonBusy
)

func (r StartErrorReason) String() string {
	if r == ReasonBusy {
		return "Busy"
	}
	return "NoSlotsAvailable"
}

// StartSessionMsg is discriminant 0.
type StartSessionMsg struct {
	Challenge    uint64
	Target       SessionTarget
	Capabilities Capabilities
}

// SessionEstablishedMsg is discriminant 1.
type SessionEstablishedMsg struct {
	OrigChallenge uint64
	SessionID     SessionID
}

// SessionErrorMsg is discriminant 2.
type SessionErrorMsg struct {
	Challenge uint64
	Reason    StartErrorReason
}

// KeepAliveMsg is discriminant 3; Flags is always 0, reserved for future use.
type KeepAliveMsg struct {
	SessionID SessionID
	Flags     uint8
}

// EncodeStartSession serializes a StartSession message.
func EncodeStartSession(m StartSessionMsg) []byte {
	host := []byte(m.Target.Host)
	buf := make([]byte, 0, 2+8+2+len(host)+2+4)
	buf = append(buf, startProtocolVersion, byte(DiscStartSession))
	buf = appendU64(buf, m.Challenge)
	buf = appendU16(buf, uint16(len(host)))
	buf = append(buf, host...)
	buf = appendU16(buf, m.Target.Port)
	buf = appendU32(buf, uint32(m.Capabilities))
	return buf
}

// EncodeSessionEstablished serializes a SessionEstablished message.
func EncodeSessionEstablished(m SessionEstablishedMsg) []byte {
	buf := make([]byte, 0, 2+8+8+32)
	buf = append(buf, startProtocolVersion, byte(DiscSessionEstablished))
	buf = appendU64(buf, m.OrigChallenge)
	buf = appendU64(buf, m.SessionID.Tag)
	buf = append(buf, m.SessionID.Pseudonym[:]...)
	return buf
}

// EncodeSessionError serializes a SessionError message.
func EncodeSessionError(m SessionErrorMsg) []byte {
	buf := make([]byte, 0, 2+8+1)
	buf = append(buf, startProtocolVersion, byte(DiscSessionError))
	buf = appendU64(buf, m.Challenge)
	buf = append(buf, byte(m.Reason))
	return buf
}

// EncodeKeepAlive serializes a KeepAlive message.
func EncodeKeepAlive(m KeepAliveMsg) []byte {
	buf := make([]byte, 0, 2+8+32+1)
	buf = append(buf, startProtocolVersion, byte(DiscKeepAlive))
	buf = appendU64(buf, m.SessionID.Tag)
	buf = append(buf, m.SessionID.Pseudonym[:]...)
	buf = append(buf, m.Flags)
	return buf
}

// DecodeStart parses any of the four Start messages, returning the
// decoded value as one of *StartSessionMsg, *SessionEstablishedMsg,
// *SessionErrorMsg, or *KeepAliveMsg.
func DecodeStart(b []byte) (interface{}, error) {
	if len(b) < 2 {
		return nil, relayerr.New(relayerr.KindInputInvalid, "session.decode_start", errors.New("message too short"))
	}
	if b[0] != startProtocolVersion {
		return nil, relayerr.New(relayerr.KindInputInvalid, "session.decode_start", errors.New("unknown message version"))
	}

	body := b[2:]
	switch Discriminant(b[1]) {
	case DiscStartSession:
		return decodeStartSession(body)
	case DiscSessionEstablished:
		if len(body) < 8+8+32 {
			return nil, shortBody("start_session_established")
		}
		challenge := binary.BigEndian.Uint64(body[0:8])
		var id SessionID
		id.Tag = binary.BigEndian.Uint64(body[8:16])
		copy(id.Pseudonym[:], body[16:48])
		return &SessionEstablishedMsg{OrigChallenge: challenge, SessionID: id}, nil
	case DiscSessionError:
		if len(body) < 8+1 {
			return nil, shortBody("session_error")
		}
		return &SessionErrorMsg{
			Challenge: binary.BigEndian.Uint64(body[0:8]),
			Reason:    StartErrorReason(body[8]),
		}, nil
	case DiscKeepAlive:
		if len(body) < 8+32+1 {
			return nil, shortBody("keep_alive")
		}
		var id SessionID
		id.Tag = binary.BigEndian.Uint64(body[0:8])
		copy(id.Pseudonym[:], body[8:40])
		return &KeepAliveMsg{SessionID: id, Flags: body[40]}, nil
	default:
		return nil, relayerr.New(relayerr.KindInputInvalid, "session.decode_start", fmt.Errorf("unknown discriminant %d", b[1]))
	}
}

func decodeStartSession(body []byte) (*StartSessionMsg, error) {
	if len(body) < 8+2 {
		return nil, shortBody("start_session")
	}
	challenge := binary.BigEndian.Uint64(body[0:8])
	hostLen := int(binary.BigEndian.Uint16(body[8:10]))
	off := 10
	if len(body) < off+hostLen+2+4 {
		return nil, shortBody("start_session")
	}
	host := string(body[off : off+hostLen])
	off += hostLen
	port := binary.BigEndian.Uint16(body[off : off+2])
	off += 2
	caps := binary.BigEndian.Uint32(body[off : off+4])
	return &StartSessionMsg{
		Challenge:    challenge,
		Target:       SessionTarget{Host: host, Port: port},
		Capabilities: Capabilities(caps),
	}, nil
}

func shortBody(msg string) error {
	return relayerr.New(relayerr.KindInputInvalid, "session.decode_start", fmt.Errorf("%s: message too short", msg))
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
