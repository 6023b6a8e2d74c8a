package shared

import (
	"math/rand"
	"strconv"
	"time"
)

const (
	ChannelPrefix = "queryhoot:room:"

	MinRoomCode = 100000
	MaxRoomCode = 999999
)

// RoomChannelName is the transport channel a room lives on. The prefix contains no digits,
// so distinct codes never share a channel.
func RoomChannelName(roomCode string) string {
	return ChannelPrefix + roomCode
}

// RoomCodeFromChannel strips the room prefix. ok is false for channels that are not rooms.
func RoomCodeFromChannel(channel string) (string, bool) {
	if len(channel) <= len(ChannelPrefix) || channel[:len(ChannelPrefix)] != ChannelPrefix {
		return "", false
	}
	return channel[len(ChannelPrefix):], true
}

func AuthorityLockName(roomCode string) string {
	return "authority:" + roomCode
}

// GenerateRoomCode returns six random digits in [100000, 999999].
func GenerateRoomCode() string {
	return strconv.Itoa(MinRoomCode + rand.Intn(MaxRoomCode-MinRoomCode+1))
}

// ValidRoomCode reports whether code is six ASCII digits without a leading zero.
func ValidRoomCode(code string) bool {
	if len(code) != 6 || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// FormatTime renders epoch milliseconds as local HH:MM:SS.
func FormatTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format("15:04:05")
}
