package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// DecodeSS58 converts an SS58-formatted address to the raw 32-byte public
// key. Hex (0x...) input is accepted as-is.
func DecodeSS58(addr string) ([]byte, error) {
	if strings.HasPrefix(addr, "0x") {
		return hex.DecodeString(addr[2:])
	}
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) < 35 {
		return nil, fmt.Errorf("invalid ss58 address")
	}
	return raw[1:33], nil // drop 1-byte prefix & 2-byte checksum
}

// EncodeSS58 renders a raw public key in SS58 for the given network prefix.
func EncodeSS58(pub []byte, prefix uint16) string {
	body := append([]byte{byte(prefix)}, pub...)
	h, _ := blake2b.New512(nil)
	h.Write([]byte("SS58PRE"))
	h.Write(body)
	sum := h.Sum(nil)
	return base58.Encode(append(body, sum[:2]...))
}

func blake2b128(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return h.Sum(nil)
}

func compactLen(n int) []byte {
	switch {
	case n < 1<<6:
		return []byte{byte(n << 2)}
	case n < 1<<14:
		out := make([]byte, 2)
		binary.LittleEndian.PutUint16(out, uint16(n<<2)|0x01)
		return out
	default:
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(n<<2)|0x02)
		return out
	}
}

// DeriveMultisigAddress computes the deterministic multisig account for a
// sorted signatory set and threshold, per the pallet's derivation scheme.
func DeriveMultisigAddress(signatories []string, threshold uint16, prefix uint16) (string, error) {
	pubs := make([][]byte, 0, len(signatories))
	for _, s := range signatories {
		pub, err := DecodeSS58(s)
		if err != nil {
			return "", fmt.Errorf("signatory %s: %w", s, err)
		}
		pubs = append(pubs, pub)
	}
	sort.Slice(pubs, func(i, j int) bool {
		return string(pubs[i]) < string(pubs[j])
	})

	entropy := []byte("modlpy/utilisuba")
	entropy = append(entropy, compactLen(len(pubs))...)
	for _, p := range pubs {
		entropy = append(entropy, p...)
	}
	tb := make([]byte, 2)
	binary.LittleEndian.PutUint16(tb, threshold)
	entropy = append(entropy, tb...)

	sum := blake2b.Sum256(entropy)
	return EncodeSS58(sum[:], prefix), nil
}

// SortedOthers returns the signatory set minus the acting address, sorted by
// raw key as the pallet requires for other_signatories.
func SortedOthers(signatories []string, self string) ([][]byte, error) {
	selfPub, err := DecodeSS58(self)
	if err != nil {
		return nil, err
	}
	var others [][]byte
	for _, s := range signatories {
		pub, err := DecodeSS58(s)
		if err != nil {
			return nil, fmt.Errorf("signatory %s: %w", s, err)
		}
		if string(pub) == string(selfPub) {
			continue
		}
		others = append(others, pub)
	}
	if len(others) == len(signatories) {
		return nil, fmt.Errorf("%s is not among the signatories", self)
	}
	sort.Slice(others, func(i, j int) bool {
		return string(others[i]) < string(others[j])
	})
	return others, nil
}
