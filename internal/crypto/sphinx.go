package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20"
)

// Sphinx suite sizing. A full Sphinx header normally reuses a single
// blinded group element across hops to keep header overhead constant; this
// implementation trades that optimization for a simpler one: every hop slot
// carries its own independent ephemeral public key. Path length is still
// hidden from an observer because every packet carries MaxHops slots
// regardless of the real path length — unused trailing slots hold random
// bytes nobody ever decrypts, since processing stops at the Final marker.
const (
	// IntermediateHops is the maximum number of relays between sender and
	// destination (spec.md §4.1: path length strictly in [1, IntermediateHops+1]).
	IntermediateHops = 3
	// MaxHops bounds the header to IntermediateHops relays plus the destination.
	MaxHops = IntermediateHops + 1

	ephemeralPubLen = 32
	addressLen      = 20
	challengeLen    = 20
	// routingBoxLen carries the next hop's address and the ticket
	// challenge the next hop will expect, sealed under this hop's header
	// key, plus AEAD tag overhead.
	routingBoxLen = addressLen + challengeLen + 16
	headerSlotLen = ephemeralPubLen + routingBoxLen
	// HeaderLen is the fixed size of the Sphinx header, independent of the
	// real path length.
	HeaderLen = MaxHops * headerSlotLen
	// PayloadSize is the fixed size of the encrypted application payload
	// carried inside every meta-packet (message bytes and/or SURBs).
	PayloadSize = 800
	// MetaPacketLen is the full onion packet size excluding the trailing ticket.
	MetaPacketLen = HeaderLen + PayloadSize
)

var zeroAddress [addressLen]byte

// HopKeys is the set of per-hop keys a sender agrees with every relay on
// the path, computed once at construction time.
type HopKeys struct {
	Secret      [32]byte
	EphemeralPub [32]byte
}

// BuildMetaPacket onion-encrypts payload for delivery through the given
// ordered list of relays (the last entry is the destination). hopPubKeys[i]
// is hop i's public key; nextHopAddrs[i] is the address hop i must forward
// to next (zero for the destination, i.e. nextHopAddrs[len-1] == zero
// address). len(hopPubKeys) must be in [1, MaxHops].
//
// Each header slot also carries the ticket challenge the *next* hop will
// expect (keccak256 of that hop's own shared secret), sealed for the
// current hop to read and hand to its outgoing ticket — this lets a relay
// build a valid next-hop ticket without ever learning the next hop's
// shared secret itself.
func BuildMetaPacket(hopPubKeys [][32]byte, nextHopAddrs [][20]byte, payload []byte) ([]byte, []HopKeys, error) {
	if len(hopPubKeys) < 1 || len(hopPubKeys) > MaxHops {
		return nil, nil, errors.New("sphinx: invalid path length")
	}
	if len(hopPubKeys) != len(nextHopAddrs) {
		return nil, nil, errors.New("sphinx: path/address length mismatch")
	}
	if len(payload) > PayloadSize {
		return nil, nil, errors.New("sphinx: payload exceeds PayloadSize")
	}

	padded := make([]byte, PayloadSize)
	copy(padded, payload)

	n := len(hopPubKeys)
	hops := make([]HopKeys, n)
	for i, hopPub := range hopPubKeys {
		eph, err := GenerateX25519KeyPair()
		if err != nil {
			return nil, nil, err
		}
		secret, err := SharedSecret(eph.Priv, hopPub)
		if err != nil {
			return nil, nil, err
		}
		hops[i] = HopKeys{Secret: secret, EphemeralPub: eph.Pub}
	}

	slots := make([][]byte, MaxHops)
	for i := range slots {
		slots[i] = make([]byte, headerSlotLen)
		if _, err := io.ReadFull(rand.Reader, slots[i]); err != nil {
			return nil, nil, err
		}
	}

	for i := 0; i < n; i++ {
		secret := hops[i].Secret
		nextAddr := nextHopAddrs[i]

		var nextChallenge [challengeLen]byte
		if i+1 < n {
			nextChallenge = ExpectedChallenge(hops[i+1].Secret)
		}

		headerKey, err := KDFHeader(secret)
		if err != nil {
			return nil, nil, err
		}
		boxPlain := make([]byte, 0, addressLen+challengeLen)
		boxPlain = append(boxPlain, nextAddr[:]...)
		boxPlain = append(boxPlain, nextChallenge[:]...)
		box, err := Seal(headerKey, boxPlain, nil)
		if err != nil {
			return nil, nil, err
		}

		slot := make([]byte, 0, headerSlotLen)
		slot = append(slot, hops[i].EphemeralPub[:]...)
		slot = append(slot, box...)
		slots[i] = slot

		bodyKey, err := KDFBody(secret)
		if err != nil {
			return nil, nil, err
		}
		if err := xorStream(bodyKey, padded); err != nil {
			return nil, nil, err
		}
	}

	header := make([]byte, 0, HeaderLen)
	for _, s := range slots {
		header = append(header, s...)
	}

	out := make([]byte, 0, MetaPacketLen)
	out = append(out, header...)
	out = append(out, padded...)
	return out, hops, nil
}

// ExpectedChallenge computes the ticket challenge a given hop's shared
// secret implies: keccak256(secret)[:20]. Used both to seal the next hop's
// expected challenge into the current header slot, and by the ticket
// pipeline to verify an incoming ticket's challenge against the secret a
// hop derived by peeling its own layer.
func ExpectedChallenge(secret [32]byte) [challengeLen]byte {
	digest := Keccak256(secret[:])
	var out [challengeLen]byte
	copy(out[:], digest[:challengeLen])
	return out
}

// PeelResult is the outcome of removing one layer of Sphinx encryption.
type PeelResult struct {
	Final         bool
	Secret        [32]byte
	Payload       []byte        // only meaningful when Final
	NextHop       [20]byte      // only meaningful when !Final
	NextChallenge [challengeLen]byte // only meaningful when !Final
	Next          []byte        // re-randomized meta-packet to forward, when !Final
}

// PeelLayer removes exactly one hop's layer of onion encryption using the
// local X25519 private key, implementing spec.md §4.1 step 1
// ("perform Sphinx into_forwarded").
func PeelLayer(metaPacket []byte, ownPriv [32]byte) (*PeelResult, error) {
	if len(metaPacket) != MetaPacketLen {
		return nil, errors.New("sphinx: invalid meta-packet size")
	}
	header := metaPacket[:HeaderLen]
	payload := append([]byte(nil), metaPacket[HeaderLen:]...)

	slot0 := header[:headerSlotLen]
	var ephPub [32]byte
	copy(ephPub[:], slot0[:ephemeralPubLen])
	box := slot0[ephemeralPubLen:]

	secret, err := SharedSecret(ownPriv, ephPub)
	if err != nil {
		return nil, err
	}
	headerKey, err := KDFHeader(secret)
	if err != nil {
		return nil, err
	}
	boxPlain, err := Open(headerKey, box, nil)
	if err != nil {
		return nil, errors.New("sphinx: header integrity check failed")
	}

	bodyKey, err := KDFBody(secret)
	if err != nil {
		return nil, err
	}
	if err := xorStream(bodyKey, payload); err != nil {
		return nil, err
	}

	var nextAddr [20]byte
	copy(nextAddr[:], boxPlain[:addressLen])
	if nextAddr == zeroAddress {
		return &PeelResult{Final: true, Secret: secret, Payload: payload}, nil
	}

	var nextChallenge [challengeLen]byte
	copy(nextChallenge[:], boxPlain[addressLen:addressLen+challengeLen])

	// Shift the header left by one slot and append a fresh random slot to
	// keep the packet length constant and the remaining path length hidden.
	newHeader := make([]byte, 0, HeaderLen)
	newHeader = append(newHeader, header[headerSlotLen:]...)
	filler := make([]byte, headerSlotLen)
	if _, err := io.ReadFull(rand.Reader, filler); err != nil {
		return nil, err
	}
	newHeader = append(newHeader, filler...)

	next := make([]byte, 0, MetaPacketLen)
	next = append(next, newHeader...)
	next = append(next, payload...)

	return &PeelResult{Final: false, Secret: secret, NextHop: nextAddr, NextChallenge: nextChallenge, Next: next}, nil
}

func xorStream(key [32]byte, buf []byte) error {
	var nonce [chacha20.NonceSize]byte
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return err
	}
	c.XORKeyStream(buf, buf)
	return nil
}

// EncodeUint64 / DecodeUint64 are small big-endian wire helpers; the
// ticket and session framing code do their own encoding and do not call
// them.
func EncodeUint64(v uint64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b
}

func DecodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
