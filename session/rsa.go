package session

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
)

// encryptPassword seals the account password under the platform's rotating
// login key. The key arrives as hex modulus and exponent strings and must be
// fetched fresh for every attempt; it is never cached here.
func encryptPassword(password, modHex, expHex string) (string, error) {
	mod, ok := new(big.Int).SetString(modHex, 16)
	if !ok || mod.Sign() <= 0 {
		return "", fmt.Errorf("malformed login key modulus")
	}
	exp, err := strconv.ParseInt(expHex, 16, 32)
	if err != nil || exp <= 1 {
		return "", fmt.Errorf("malformed login key exponent")
	}

	pub := &rsa.PublicKey{N: mod, E: int(exp)}
	sealed, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("encrypting password: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}
