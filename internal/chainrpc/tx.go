package chainrpc

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/privmix/relay/internal/ticket"
)

// redeemTicketSignature is the Solidity method signature the payment
// channel contract exposes for ticket redemption. No generated ABI
// bindings are produced by this codebase (spec.md's contract ABI is out
// of scope), so the selector and calldata are built by hand the way
// internal/channel's event topics are — keccak256 of the literal
// signature, computed here at call time rather than hardcoded since the
// hash is cheap and this keeps the signature and its selector in one
// place.
const redeemTicketSignature = "redeemTicket(bytes32,bytes32,bytes32,bytes)"

func redeemTicketSelector() [4]byte {
	full := ethcrypto.Keccak256([]byte(redeemTicketSignature))
	var sel [4]byte
	copy(sel[:], full[:4])
	return sel
}

func leftPad32(v *big.Int) []byte {
	b := v.Bytes()
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func rightPadTo32(data []byte) []byte {
	rem := len(data) % 32
	if rem == 0 {
		return data
	}
	return append(data, make([]byte, 32-rem)...)
}

// encodeRedeemTicketCalldata ABI-encodes a call to redeemTicket with the
// acknowledged ticket's fields: response and the VRF's Chaum-Pedersen
// scalars as fixed bytes32 head words, and the ticket's wire encoding
// together with the VRF's elliptic curve point as a single trailing
// dynamic bytes parameter (keeping the call to one dynamic argument
// avoids encoding a second, independent offset/length pair).
func encodeRedeemTicketCalldata(at *ticket.AcknowledgedTicket) []byte {
	payload := make([]byte, 0, len(at.VRFParams.VUncompressed)+ticket.Len)
	payload = append(payload, at.VRFParams.VUncompressed[:]...)
	payload = append(payload, at.Ticket.Encode()...)

	sel := redeemTicketSelector()
	data := make([]byte, 0, 4+32*4+32+len(payload)+32)
	data = append(data, sel[:]...)
	data = append(data, at.Response[:]...)
	data = append(data, at.VRFParams.S[:]...)
	data = append(data, at.VRFParams.H[:]...)
	data = append(data, leftPad32(big.NewInt(0x80))...) // offset to the dynamic bytes arg: 4 head words
	data = append(data, leftPad32(big.NewInt(int64(len(payload))))...)
	data = append(data, rightPadTo32(payload)...)
	return data
}

// revertReasonSelector is the standard Solidity Error(string) selector
// prefixing a revert reason in call-simulation return data.
var revertReasonSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// decodeRevertReason extracts the human-readable string from a standard
// Error(string) revert payload, or "" if data doesn't match that shape.
func decodeRevertReason(data []byte) string {
	if len(data) < 4+32+32 {
		return ""
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	if sel != revertReasonSelector {
		return ""
	}
	length := new(big.Int).SetBytes(data[4+32 : 4+64]).Int64()
	start := 4 + 64
	end := start + int(length)
	if end > len(data) {
		return ""
	}
	return string(data[start:end])
}
