package compose

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// State is where a draft is in its send cycle.
type State int

const (
	Idle State = iota
	Sending
	Sent
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	}
	return "unknown"
}

var ErrSendInProgress = errors.New("a send for this draft is already in progress")

// Draft holds the compose input of one conversation. A failed send keeps
// the content so the user can retry; a successful one clears it.
type Draft struct {
	mu      sync.Mutex
	subject string
	content string
	state   State
	err     error
}

func NewDraft(subject, content string) *Draft {
	return &Draft{subject: subject, content: content}
}

// SetContent replaces the input. Editing after a send starts a new cycle.
func (d *Draft) SetContent(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
	if d.state == Sent || d.state == Failed {
		d.state = Idle
		d.err = nil
	}
}

func (d *Draft) SetSubject(subject string) {
	d.mu.Lock()
	d.subject = subject
	d.mu.Unlock()
}

func (d *Draft) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

func (d *Draft) Subject() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subject
}

func (d *Draft) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err is the error of the last failed send.
func (d *Draft) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Draft) begin() (subject, content string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Sending {
		return "", "", ErrSendInProgress
	}
	d.state = Sending
	d.err = nil
	return d.subject, d.content, nil
}

func (d *Draft) finish(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.state = Failed
		d.err = err
		return
	}
	d.state = Sent
	d.subject = ""
	d.content = ""
}
