package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Per-hop HKDF info labels, kept distinct so a shared secret can never be
// reused across purposes.
const (
	infoHeader = "privmix-sphinx-header-v1"
	infoBody   = "privmix-sphinx-body-v1"
	infoAck    = "privmix-sphinx-ack-v1"
	infoBlind  = "privmix-sphinx-blind-v1"
)

func expand(secret [32]byte, info string, out []byte) error {
	r := hkdf.New(sha256.New, secret[:], nil, []byte(info))
	_, err := io.ReadFull(r, out)
	return err
}

// KDFHeader derives the stream-cipher key used to encrypt/decrypt a single
// Sphinx header layer from the per-hop shared secret.
func KDFHeader(secret [32]byte) ([32]byte, error) {
	var out [32]byte
	if err := expand(secret, infoHeader, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// KDFBody derives the ChaCha20 stream key used to encrypt/decrypt the
// packet payload at a given hop.
func KDFBody(secret [32]byte) ([32]byte, error) {
	var out [32]byte
	if err := expand(secret, infoBody, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// KDFAck derives the key share returned to the previous hop as proof this
// hop relayed the packet, per spec.md §4.1 "Acknowledgement".
func KDFAck(secret [32]byte) ([32]byte, error) {
	var out [32]byte
	if err := expand(secret, infoAck, out[:]); err != nil {
		return out, err
	}
	return out, nil
}

// BlindFactor derives a per-hop blinding scalar from the shared secret.
// The Sphinx transform in this package does not use it: every header slot
// carries its own ephemeral key, so no key is blinded between hops.
func BlindFactor(secret [32]byte) ([32]byte, error) {
	var out [32]byte
	if err := expand(secret, infoBlind, out[:]); err != nil {
		return out, err
	}
	return out, nil
}
