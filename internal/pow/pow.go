// Package pow implements the hashcash-style anti-abuse token sent with slot
// negotiation. The challenge is bound to the submitted file list so a token
// cannot be replayed for a different bundle.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// MaxDifficulty caps the number of leading zero bits.
const MaxDifficulty = 32

var (
	ErrMalformed = errors.New("malformed anti-abuse token")
	ErrMismatch  = errors.New("anti-abuse token does not match request")
	ErrTooWeak   = errors.New("anti-abuse token does not meet difficulty")
)

// Challenge derives the challenge string from a bundle's names and sizes.
func Challenge(names []string, sizes []int64) string {
	h := sha256.New()
	for i, n := range names {
		var size int64
		if i < len(sizes) {
			size = sizes[i]
		}
		fmt.Fprintf(h, "%s\x00%d\x00", n, size)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Solve searches for a nonce and returns the token "challenge:nonce".
// Difficulty 0 returns immediately.
func Solve(ctx context.Context, challenge string, difficulty int) (string, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return "", fmt.Errorf("difficulty %d out of range", difficulty)
	}
	for nonce := uint64(0); ; nonce++ {
		if nonce&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return "", err
			}
		}
		n := strconv.FormatUint(nonce, 16)
		if leadingZeroBits(challenge, n) >= difficulty {
			return challenge + ":" + n, nil
		}
	}
}

// Verify checks token against the expected challenge and difficulty.
func Verify(token, challenge string, difficulty int) error {
	if difficulty <= 0 {
		return nil
	}
	c, nonce, ok := strings.Cut(token, ":")
	if !ok || nonce == "" || len(nonce) > 16 {
		return ErrMalformed
	}
	if c != challenge {
		return ErrMismatch
	}
	if leadingZeroBits(c, nonce) < difficulty {
		return ErrTooWeak
	}
	return nil
}

func leadingZeroBits(challenge, nonce string) int {
	sum := sha256.Sum256([]byte(challenge + ":" + nonce))
	n := 0
	for _, b := range sum {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return n
}
