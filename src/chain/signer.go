package chain

import (
	"fmt"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
)

// Keyring holds the server-side wallet signers, keyed by SS58 address. A
// committee member whose address is absent must submit chain calls from
// their own wallet and report the artifacts instead.
type Keyring struct {
	pairs map[string]signature.KeyringPair
}

// NewKeyring parses "seed-or-uri;seed-or-uri" and derives each address.
// The literal "none" yields an empty keyring.
func NewKeyring(seeds string, ss58Prefix uint16) (*Keyring, error) {
	kr := &Keyring{pairs: make(map[string]signature.KeyringPair)}
	if seeds == "" || seeds == "none" {
		return kr, nil
	}
	for _, seed := range strings.Split(seeds, ";") {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}
		kp, err := signature.KeyringPairFromSecret(seed, ss58Prefix)
		if err != nil {
			return nil, fmt.Errorf("bad signer seed: %w", err)
		}
		kr.pairs[kp.Address] = kp
	}
	return kr, nil
}

// Add registers an already-derived pair.
func (k *Keyring) Add(kp signature.KeyringPair) {
	k.pairs[kp.Address] = kp
}

// For returns the signer bound to addr, if the server holds one.
func (k *Keyring) For(addr string) (signature.KeyringPair, bool) {
	kp, ok := k.pairs[addr]
	return kp, ok
}
