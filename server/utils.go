package server

import (
	"crypto/rand"
	"math/big"
)

const (
	roomIDLength   = 6
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var roomIDAlphabetSize = big.NewInt(int64(len(roomIDAlphabet)))

// GenerateRoomID returns a random room code of 6 uppercase alphanumerics.
func GenerateRoomID() (string, error) {
	buf := make([]byte, roomIDLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, roomIDAlphabetSize)
		if err != nil {
			return "", err
		}
		buf[i] = roomIDAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidRoomID reports whether id has the shape of a generated room code.
func ValidRoomID(id string) bool {
	if len(id) != roomIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
