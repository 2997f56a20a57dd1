package keys

import (
	"errors"
	"fmt"
	"regexp"
)

// letters, digits, dot, underscore, dash; ":" is reserved as the segment
// separator.
var idRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

func ValidateUserID(id string) error {
	if id == "" {
		return errors.New("user id empty")
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid user id: %q", id)
	}
	return nil
}

func ValidateThreadID(id string) error {
	if id == "" {
		return errors.New("thread id empty")
	}
	if !idRegexp.MatchString(id) {
		return fmt.Errorf("invalid thread id: %q", id)
	}
	return nil
}

// ValidateTS rejects timestamps that cannot be padded into a key.
func ValidateTS(ts int64) error {
	if ts < 0 {
		return fmt.Errorf("timestamp must not be negative: %d", ts)
	}
	return nil
}
