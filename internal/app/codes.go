package app

import (
	"crypto/rand"
	"math/big"
)

// codeAlphabet omits characters that are easy to misread (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const maxCodeAttempts = 10

func newJoinCode(length int) (string, error) {
	limit := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
