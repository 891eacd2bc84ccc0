package webserver

import (
	"encoding/hex"
	"fmt"
	"time"

	schnorrkel "github.com/ChainSafe/go-schnorrkel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stake-plus/polkadot-grant-pay/src/chain"
)

func strip0x(s string) string {
	if len(s) > 1 && s[:2] == "0x" {
		return s[2:]
	}
	return s
}

// verifySignature checks an sr25519 signature over the challenge nonce,
// produced by the wallet bound to addr.
func verifySignature(addr, sigHex, nonce string) error {
	pubKeyBytes, err := chain.DecodeSS58(addr)
	if err != nil {
		return err
	}
	if len(pubKeyBytes) != 32 {
		return fmt.Errorf("invalid public key length: %d", len(pubKeyBytes))
	}

	sigBytes, err := hex.DecodeString(strip0x(sigHex))
	if err != nil {
		return err
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("invalid signature length: %d", len(sigBytes))
	}

	var pkRaw [32]byte
	copy(pkRaw[:], pubKeyBytes)
	var sigRaw [64]byte
	copy(sigRaw[:], sigBytes)

	var pk schnorrkel.PublicKey
	if err = pk.Decode(pkRaw); err != nil {
		return err
	}
	var sig schnorrkel.Signature
	if err = sig.Decode(sigRaw); err != nil {
		return err
	}

	// Wallets may wrap the signed payload in <Bytes>...</Bytes>.
	for _, msg := range []string{nonce, "<Bytes>" + nonce + "</Bytes>"} {
		ctx := schnorrkel.NewSigningContext([]byte("substrate"), []byte(msg))
		if valid, err := pk.Verify(&sig, ctx); err == nil && valid {
			return nil
		}
	}
	return fmt.Errorf("signature verification failed")
}

func issueJWT(addr string, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"addr": addr,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString(secret)
}
