package keys

import "fmt"

func GenThreadKey(threadID string) string {
	return fmt.Sprintf(ThreadKey, threadID)
}

func GenMessageKey(threadID string, ts int64, seq uint64) string {
	return fmt.Sprintf(MessageKey, threadID, PadTS(ts), PadSeq(seq))
}

func GenProjectionKey(userID string, updatedAt int64, threadID string) string {
	return fmt.Sprintf(ProjectionKey, userID, PadTS(updatedAt), threadID)
}

func GenThreadMessagesPrefix(threadID string) string {
	return fmt.Sprintf(ThreadMessagesPrefix, threadID)
}

// GenMessagesBefore is the exclusive upper bound for messages of threadID
// with a timestamp strictly less than ts.
func GenMessagesBefore(threadID string, ts int64) string {
	return GenThreadMessagesPrefix(threadID) + PadTS(ts)
}

func GenUserProjectionPrefix(userID string) string {
	return fmt.Sprintf(UserProjectionPrefix, userID)
}

// PrefixUpperBound returns the smallest key greater than every key with
// the given prefix.
func PrefixUpperBound(prefix string) []byte {
	end := []byte(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func PadTS(ts int64) string {
	return fmt.Sprintf("%0*d", TSPadWidth, ts)
}

func PadSeq(seq uint64) string {
	return fmt.Sprintf("%0*d", SeqPadWidth, seq)
}
