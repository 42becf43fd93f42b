package crypto

import (
	"bytes"
	"testing"
)

func TestSphinxRoundTripHops(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		n := n
		t.Run("", func(t *testing.T) {
			privs := make([][32]byte, n)
			pubs := make([][32]byte, n)
			addrs := make([][20]byte, n)
			for i := 0; i < n; i++ {
				kp, err := GenerateX25519KeyPair()
				if err != nil {
					t.Fatal(err)
				}
				privs[i] = kp.Priv
				pubs[i] = kp.Pub
				if i+1 < n {
					addrs[i] = [20]byte{byte(i + 1), 0xaa}
				}
				// last hop's address stays the zero value (destination marker).
			}

			plaintext := []byte("hello onion world")
			packet, _, err := BuildMetaPacket(pubs, addrs, plaintext)
			if err != nil {
				t.Fatal(err)
			}
			if len(packet) != MetaPacketLen {
				t.Fatalf("packet length = %d, want %d", len(packet), MetaPacketLen)
			}

			cur := packet
			for i := 0; i < n; i++ {
				res, err := PeelLayer(cur, privs[i])
				if err != nil {
					t.Fatalf("hop %d: %v", i, err)
				}
				if i == n-1 {
					if !res.Final {
						t.Fatalf("hop %d: expected final", i)
					}
					if !bytes.Equal(res.Payload[:len(plaintext)], plaintext) {
						t.Fatalf("hop %d: payload mismatch: %q", i, res.Payload[:len(plaintext)])
					}
				} else {
					if res.Final {
						t.Fatalf("hop %d: unexpected final", i)
					}
					if len(res.Next) != MetaPacketLen {
						t.Fatalf("hop %d: forwarded packet length = %d", i, len(res.Next))
					}
					cur = res.Next
				}
			}
		})
	}
}
