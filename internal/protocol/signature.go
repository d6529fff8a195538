package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	privatePrefix     = "private-"
	privateUserPrefix = "private-user."
)

// IsPrivateChannel reports whether subscribing to name requires authorization.
func IsPrivateChannel(name string) bool {
	return strings.HasPrefix(name, privatePrefix)
}

// PrivateUserChannel names the private channel that carries one user's
// notifications.
func PrivateUserChannel(userID int64) string {
	return privateUserPrefix + strconv.FormatInt(userID, 10)
}

// Sign produces the auth string "<key>:<hex hmac>" for a private channel
// subscription of the given socket.
func Sign(key, secret, socketID, channel string) string {
	return key + ":" + signature(secret, socketID, channel)
}

// Verify checks an auth string produced by Sign.
func Verify(key, secret, socketID, channel, auth string) bool {
	gotKey, sig, ok := strings.Cut(auth, ":")
	if !ok || gotKey != key {
		return false
	}
	expected := signature(secret, socketID, channel)
	return hmac.Equal([]byte(sig), []byte(expected))
}

func signature(secret, socketID, channel string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(socketID + ":" + channel))
	return hex.EncodeToString(mac.Sum(nil))
}
