package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// ---------- TwoX hashing (Substrate storage keys) ----------

func twox128(data []byte) []byte {
	hash1 := xxhash.NewS64(0)
	hash1.Write(data)
	hash2 := xxhash.NewS64(1)
	hash2.Write(data)
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:], hash1.Sum64())
	binary.LittleEndian.PutUint64(out[8:], hash2.Sum64())
	return out
}

func twox64(data []byte) []byte {
	hash := xxhash.NewS64(0)
	hash.Write(data)
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, hash.Sum64())
	return out
}

// multisigStorageKey builds the Multisig.Multisigs double-map key:
// twox128(pallet) ++ twox128(item) ++ twox64_concat(account) ++ blake2_128_concat(callHash).
func multisigStorageKey(account []byte, callHash []byte) string {
	key := append(twox128([]byte("Multisig")), twox128([]byte("Multisigs"))...)
	key = append(key, twox64(account)...)
	key = append(key, account...)
	key = append(key, blake2b128(callHash)...)
	key = append(key, callHash...)
	return "0x" + hex.EncodeToString(key)
}

// ---------- SCALE decoding of the pending multisig entry ----------

// PendingCall mirrors the pallet's Multisig storage value: the timepoint of
// the first signature and the set of accounts that have approved so far.
type PendingCall struct {
	When      Timepoint
	Depositor string
	Approvals []string
}

func decodeCompactLen(data []byte) (int, int, error) {
	if len(data) == 0 {
		return 0, 0, fmt.Errorf("empty compact")
	}
	switch data[0] & 0x03 {
	case 0:
		return int(data[0] >> 2), 1, nil
	case 1:
		if len(data) < 2 {
			return 0, 0, fmt.Errorf("short compact")
		}
		return int(binary.LittleEndian.Uint16(data[:2]) >> 2), 2, nil
	case 2:
		if len(data) < 4 {
			return 0, 0, fmt.Errorf("short compact")
		}
		return int(binary.LittleEndian.Uint32(data[:4]) >> 2), 4, nil
	default:
		return 0, 0, fmt.Errorf("compact too large")
	}
}

// decodePendingCall parses Multisig { when: Timepoint<u32>, deposit: u128,
// depositor: AccountId, approvals: Vec<AccountId> }.
func decodePendingCall(raw []byte, ss58Prefix uint16) (*PendingCall, error) {
	// 8 bytes timepoint + 16 bytes deposit + 32 bytes depositor minimum
	if len(raw) < 56 {
		return nil, fmt.Errorf("multisig entry too short: %d bytes", len(raw))
	}
	pc := &PendingCall{
		When: Timepoint{
			Height: binary.LittleEndian.Uint32(raw[0:4]),
			Index:  binary.LittleEndian.Uint32(raw[4:8]),
		},
	}
	offset := 8 + 16 // skip deposit, only audit data here
	pc.Depositor = EncodeSS58(raw[offset:offset+32], ss58Prefix)
	offset += 32

	n, used, err := decodeCompactLen(raw[offset:])
	if err != nil {
		return nil, err
	}
	offset += used
	if len(raw) < offset+32*n {
		return nil, fmt.Errorf("multisig approvals truncated")
	}
	for i := 0; i < n; i++ {
		pc.Approvals = append(pc.Approvals, EncodeSS58(raw[offset:offset+32], ss58Prefix))
		offset += 32
	}
	return pc, nil
}
