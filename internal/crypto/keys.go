// Package crypto implements the primitives backing the packet
// transformation pipeline: X25519 key agreement for the Sphinx header,
// HKDF-derived per-hop keys, a ChaCha20-Poly1305 AEAD for each hop's header
// routing box (payloads use an unauthenticated ChaCha20 stream), and
// the secp256k1/Keccak256 primitives used for ticket signatures.
//
// Grounded on the layer-peeling shape of other_examples' loopix sphinx.go
// and on ethereum-go-ethereum's crypto package for the Keccak256/ECDSA half.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"io"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/curve25519"
)

// PrivKey is a relay's long-term chain (ECDSA secp256k1) keypair, used to
// sign outgoing tickets and to derive its Ethereum-style address.
type PrivKey struct {
	ecdsa.PrivateKey
}

// GeneratePrivKey creates a new ECDSA secp256k1 keypair for chain signing.
func GeneratePrivKey() (*PrivKey, error) {
	sk, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &PrivKey{PrivateKey: *sk}, nil
}

// Address returns the Ethereum-style 20-byte address derived from the
// public key, used as the chain identity in ChannelId derivation.
func (p *PrivKey) Address() [20]byte {
	addr := ethcrypto.PubkeyToAddress(p.PublicKey)
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

// Sign produces a 64-byte (r||s) ECDSA signature over a 32-byte digest,
// matching the wire-exact signature field of a Ticket (no recovery id).
func (p *PrivKey) Sign(digest [32]byte) ([64]byte, error) {
	sig, err := ethcrypto.Sign(digest[:], &p.PrivateKey)
	if err != nil {
		return [64]byte{}, err
	}
	var out [64]byte
	copy(out[:], sig[:64])
	return out, nil
}

// VerifySignature checks an (r||s) signature over digest against a
// 20-byte Ethereum-style signer address by recovering the public key from
// both possible recovery ids.
func VerifySignature(digest [32]byte, sig [64]byte, signer [20]byte) bool {
	for recid := byte(0); recid < 2; recid++ {
		full := append(append([]byte{}, sig[:]...), recid)
		pub, err := ethcrypto.SigToPub(digest[:], full)
		if err != nil {
			continue
		}
		if ethcrypto.PubkeyToAddress(*pub) == signer {
			return true
		}
	}
	return false
}

// Keccak256 hashes data with Keccak-256, the hash used throughout the
// ticket format and the winning-ticket luck derivation.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], ethcrypto.Keccak256(data...))
	return out
}

// X25519KeyPair is an ephemeral Diffie-Hellman keypair used for Sphinx
// per-hop shared secret derivation.
type X25519KeyPair struct {
	Priv [32]byte
	Pub  [32]byte
}

// GenerateX25519KeyPair creates a new ephemeral X25519 keypair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &X25519KeyPair{Priv: priv}
	copy(kp.Pub[:], pub)
	return kp, nil
}

// SharedSecret performs the X25519 Diffie-Hellman agreement between a
// local private key and a remote public key.
func SharedSecret(priv, remotePub [32]byte) ([32]byte, error) {
	s, err := curve25519.X25519(priv[:], remotePub[:])
	if err != nil {
		return [32]byte{}, err
	}
	if len(s) != 32 {
		return [32]byte{}, errors.New("crypto: unexpected shared secret length")
	}
	var out [32]byte
	copy(out[:], s)
	return out, nil
}
