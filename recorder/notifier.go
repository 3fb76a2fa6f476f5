package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

var ErrNotifierClosed = errors.New("notifier is closed")

type ChangeKind string

const (
	ChangeKey       ChangeKind = "key"
	ChangeRecording ChangeKind = "recording"
	ChangeAction    ChangeKind = "action"
)

// Change tells a UI that host storage moved on and it should resync.
type Change struct {
	Kind        ChangeKind `json:"kind"`
	Key         string     `json:"key,omitempty"`
	RecordingID string     `json:"recording_id,omitempty"`
	Recording   bool       `json:"recording"`
	NumActions  int        `json:"num_actions"`
	At          time.Time  `json:"at"`
}

// Notifier fans out storage changes. Subscribing to "" receives every change.
type Notifier interface {
	Publish(ctx context.Context, change Change) error
	Subscribe(recordingID string) (<-chan Change, func(), error)
	Close() error
}

type memorySubscriber struct {
	ch          chan Change
	recordingID string
}

// MemoryNotifier delivers changes in process. Slow subscribers miss changes
// rather than block the publisher.
type MemoryNotifier struct {
	mu     sync.RWMutex
	subs   map[int]memorySubscriber
	nextID int
	closed bool
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{subs: make(map[int]memorySubscriber)}
}

func (n *MemoryNotifier) Publish(ctx context.Context, change Change) error {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrNotifierClosed
	}
	for _, sub := range n.subs {
		if sub.recordingID != "" && sub.recordingID != change.RecordingID {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
	return nil
}

func (n *MemoryNotifier) Subscribe(recordingID string) (<-chan Change, func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, nil, ErrNotifierClosed
	}
	id := n.nextID
	n.nextID++
	ch := make(chan Change, 64)
	n.subs[id] = memorySubscriber{ch: ch, recordingID: recordingID}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub.ch)
			}
		})
	}
	return ch, cancel, nil
}

func (n *MemoryNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for id, sub := range n.subs {
		delete(n.subs, id)
		close(sub.ch)
	}
	return nil
}

// NATSNotifier publishes changes on <subject>.<recording id> so UIs on other
// hosts can follow a recording.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	owned   bool
	closed  atomic.Bool
}

func NewNATSNotifier(url string, subject string) (*NATSNotifier, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	conn, err := nats.Connect(url,
		nats.Name("sentinel-recorder"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	n := NewNATSNotifierFromConn(conn, subject)
	n.owned = true
	return n, nil
}

func NewNATSNotifierFromConn(conn *nats.Conn, subject string) *NATSNotifier {
	if subject == "" {
		subject = "sentinel.recordings"
	}
	return &NATSNotifier{conn: conn, subject: subject}
}

func (n *NATSNotifier) subjectFor(recordingID string) string {
	if recordingID == "" {
		return n.subject + "._"
	}
	return n.subject + "." + recordingID
}

func (n *NATSNotifier) Publish(ctx context.Context, change Change) error {
	if n.closed.Load() {
		return ErrNotifierClosed
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("error encoding change: %w", err)
	}
	return n.conn.Publish(n.subjectFor(change.RecordingID), data)
}

func (n *NATSNotifier) Subscribe(recordingID string) (<-chan Change, func(), error) {
	if n.closed.Load() {
		return nil, nil, ErrNotifierClosed
	}
	subject := n.subject + ".>"
	if recordingID != "" {
		subject = n.subjectFor(recordingID)
	}
	ch := make(chan Change, 64)
	var mu sync.Mutex
	done := false
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		var change Change
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		select {
		case ch <- change:
		default:
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			done = true
			close(ch)
		})
	}
	return ch, cancel, nil
}

func (n *NATSNotifier) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	if n.owned {
		n.conn.Close()
	}
	return nil
}
