package hashing

import (
	"encoding/hex"
	"math/bits"
)

// LeadingZeroBits counts the leading zero bits of a hex encoded hash, expanding every hex digit
// to four bits. Input that is not valid hex has no leading zero bits.
func LeadingZeroBits(hexHash string) int {
	b, err := hex.DecodeString(hexHash)
	if err != nil {
		return 0
	}

	n := 0
	for _, c := range b {
		if c != 0 {
			return n + bits.LeadingZeros8(c)
		}
		n += 8
	}
	return n
}

// MeetsDifficulty reports whether the first difficulty bits of hexHash are all zero.
func MeetsDifficulty(hexHash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return LeadingZeroBits(hexHash) >= difficulty
}
