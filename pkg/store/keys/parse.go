package keys

import (
	"fmt"
	"strconv"
	"strings"
)

type KeyType string

const (
	KeyTypeThread     KeyType = "thread"
	KeyTypeMessage    KeyType = "message"
	KeyTypeProjection KeyType = "projection"
	KeyTypeSystem     KeyType = "system"
)

// KeyParts is the decoded form of any storage key.
type KeyParts struct {
	Type      KeyType
	ThreadID  string
	UserID    string
	TS        int64
	Seq       uint64
	SystemKey string
}

func parsePaddedInt(s string, width int) (int64, error) {
	if len(s) != width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

func parsePaddedUint(s string, width int) (uint64, error) {
	if len(s) != width {
		return 0, fmt.Errorf("length invalid: %s", s)
	}
	trimmed := strings.TrimLeft(s, "0")
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

// ParseKey classifies key by its prefix and segment shape.
func ParseKey(key string) (*KeyParts, error) {
	parts := strings.Split(key, ":")
	switch {
	case len(parts) == 2 && parts[0] == "t":
		return ParseThreadKey(key)
	case len(parts) == 5 && parts[0] == "t" && parts[2] == "m":
		return ParseMessageKey(key)
	case len(parts) == 5 && parts[0] == "u" && parts[2] == "t":
		return ParseProjectionKey(key)
	case len(parts) >= 2 && parts[0] == "system":
		return &KeyParts{Type: KeyTypeSystem, SystemKey: key}, nil
	}
	return nil, fmt.Errorf("unrecognized key: %s", key)
}

func ParseThreadKey(key string) (*KeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 || parts[0] != "t" || !idRegexp.MatchString(parts[1]) {
		return nil, fmt.Errorf("invalid thread key: %s", key)
	}
	return &KeyParts{Type: KeyTypeThread, ThreadID: parts[1]}, nil
}

func ParseMessageKey(key string) (*KeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "t" || parts[2] != "m" || !idRegexp.MatchString(parts[1]) {
		return nil, fmt.Errorf("invalid message key: %s", key)
	}
	ts, err := parsePaddedInt(parts[3], TSPadWidth)
	if err != nil {
		return nil, fmt.Errorf("invalid message key timestamp: %s: %w", key, err)
	}
	seq, err := parsePaddedUint(parts[4], SeqPadWidth)
	if err != nil {
		return nil, fmt.Errorf("invalid message key seq: %s: %w", key, err)
	}
	return &KeyParts{Type: KeyTypeMessage, ThreadID: parts[1], TS: ts, Seq: seq}, nil
}

func ParseProjectionKey(key string) (*KeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "u" || parts[2] != "t" || !idRegexp.MatchString(parts[1]) || !idRegexp.MatchString(parts[4]) {
		return nil, fmt.Errorf("invalid projection key: %s", key)
	}
	ts, err := parsePaddedInt(parts[3], TSPadWidth)
	if err != nil {
		return nil, fmt.Errorf("invalid projection key timestamp: %s: %w", key, err)
	}
	return &KeyParts{Type: KeyTypeProjection, UserID: parts[1], TS: ts, ThreadID: parts[4]}, nil
}
