package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const suffixAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateTicketSuffix returns a short random suffix for ticket numbers. The
// alphabet drops look-alike characters so numbers survive being read aloud at
// a venue door.
func GenerateTicketSuffix(length int) string {
	suffix := make([]byte, length)
	max := big.NewInt(int64(len(suffixAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is not recoverable here; fall back to a
			// timestamp-derived index rather than panic at the door.
			n = big.NewInt(time.Now().UnixNano() % int64(len(suffixAlphabet)))
		}
		suffix[i] = suffixAlphabet[n.Int64()]
	}
	return string(suffix)
}

// GenerateOrderNumber creates an external-facing order reference.
func GenerateOrderNumber() string {
	timestamp := time.Now().Unix()
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999))
	return fmt.Sprintf("JE-%d-%06d", timestamp, randomNum.Int64())
}
