package syncer

import "github.com/iwoork/homeforpup-sub006/pkg/models"

// Fingerprint is a cheap summary of a fetch result. Two equal fingerprints
// mean the engine can skip replacing its view.
type Fingerprint struct {
	Newest int64
	Count  int
	Unread int
}

// ThreadsFingerprint summarises a thread list from userID's point of view.
// Unread is included so a mark-read elsewhere, which does not bump
// updatedAt, is still noticed.
func ThreadsFingerprint(threads []models.Thread, userID string) Fingerprint {
	fp := Fingerprint{Count: len(threads)}
	for i := range threads {
		if threads[i].UpdatedAt > fp.Newest {
			fp.Newest = threads[i].UpdatedAt
		}
		fp.Unread += threads[i].Unread(userID)
	}
	return fp
}

// MessagesFingerprint summarises a message page.
func MessagesFingerprint(msgs []models.Message, userID string) Fingerprint {
	fp := Fingerprint{Count: len(msgs)}
	for i := range msgs {
		if msgs[i].Timestamp > fp.Newest {
			fp.Newest = msgs[i].Timestamp
		}
		if msgs[i].AddressedTo(userID) && !msgs[i].Read {
			fp.Unread++
		}
	}
	return fp
}
