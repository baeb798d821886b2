// Package conversation maintains the merged, ordered view of the currently
// open conversation. Historical (HTTP-fetched) and live (channel-delivered)
// messages converge into one sequence: total order by sent time, ties broken
// by arrival order, optimistic sends reconciled in place by client token.
package conversation

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alicia-74/libroredsocial/internal/domain"
)

var (
	ErrNoActivePeer = errors.New("no active conversation")
	ErrEmptyContent = errors.New("message content is empty")
)

type entry struct {
	msg     domain.Message
	arrival uint64
}

// View is the view model for one open conversation at a time.
type View struct {
	mu     sync.Mutex
	selfID string

	activePeer string
	entries    []*entry
	byToken    map[string]*entry
	byID       map[string]*entry
	arrivalSeq uint64
}

func NewView(selfID string) *View {
	return &View{
		selfID:  selfID,
		byToken: make(map[string]*entry),
		byID:    make(map[string]*entry),
	}
}

// Open sets the active conversation and clears any previous one. The caller
// fetches history separately and feeds it through ApplyHistory.
func (v *View) Open(peerID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.activePeer = peerID
	v.reset()
}

// Close clears the active conversation. Subsequent inbound messages are the
// directory's business, not this view's.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.activePeer = ""
	v.reset()
}

func (v *View) reset() {
	v.entries = v.entries[:0]
	v.byToken = make(map[string]*entry)
	v.byID = make(map[string]*entry)
	v.arrivalSeq = 0
}

// ActivePeer returns the id of the open conversation's peer, or "".
func (v *View) ActivePeer() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activePeer
}

// Accepts reports whether an inbound message belongs to the open conversation.
func (v *View) Accepts(msg *domain.Message) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.activePeer != "" && msg.Between(v.selfID, v.activePeer)
}

// ApplyHistory merges a fetched history into the view. The peerID guard
// discards stale responses: if the user switched conversations while the
// fetch was in flight, its result no longer applies. Merging (rather than
// replacing) keeps live messages that arrived before the fetch returned.
func (v *View) ApplyHistory(peerID string, msgs []domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if peerID != v.activePeer {
		return
	}
	for i := range msgs {
		v.upsert(msgs[i])
	}
}

// Apply merges one live message into the view. Duplicate deliveries (same id
// or client token) update in place and never create a second entry.
func (v *View) Apply(msg domain.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.activePeer == "" || !msg.Between(v.selfID, v.activePeer) {
		return
	}
	v.upsert(msg)
}

// ApplyReceipt reconciles a delivery or read receipt. A receipt carrying a
// client token that matches a pending local message upgrades that entry in
// place; otherwise the receipt is matched by message id.
func (v *View) ApplyReceipt(r domain.ReceiptFrame) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if r.ClientToken != "" {
		if e, ok := v.byToken[r.ClientToken]; ok {
			if r.MessageID != "" && e.msg.ID == "" {
				e.msg.ID = r.MessageID
				v.byID[r.MessageID] = e
			}
			if r.SentAt > 0 {
				e.msg.SentAt = time.UnixMilli(r.SentAt)
			}
			e.msg.Status = e.msg.Status.AtLeast(r.Status)
			e.msg.Provisional = false
			return
		}
	}
	if r.MessageID != "" {
		if e, ok := v.byID[r.MessageID]; ok {
			e.msg.Status = e.msg.Status.AtLeast(r.Status)
		}
	}
}

// Send validates and appends an optimistic pending message, returning it so
// the caller can forward it to the live channel. The local clock is only a
// provisional display value; the server timestamp replaces it on receipt.
func (v *View) Send(content string) (domain.Message, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.activePeer == "" {
		return domain.Message{}, ErrNoActivePeer
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrEmptyContent
	}

	msg := domain.Message{
		ClientToken: uuid.NewString(),
		SenderID:    v.selfID,
		ReceiverID:  v.activePeer,
		Content:     content,
		SentAt:      time.Now(),
		Status:      domain.StatusPending,
		Provisional: true,
	}
	v.upsert(msg)
	return msg, nil
}

// Messages returns a snapshot of the ordered sequence.
func (v *View) Messages() []domain.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]domain.Message, len(v.entries))
	for i, e := range v.entries {
		out[i] = e.msg
	}
	return out
}

// Len returns the number of displayed messages.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.entries)
}

// upsert merges one message. Reconciliation by client token wins over id so
// an optimistic entry is replaced, not duplicated, when its confirmed copy
// arrives. Position is preserved on reconciliation.
func (v *View) upsert(msg domain.Message) {
	if msg.ClientToken != "" {
		if e, ok := v.byToken[msg.ClientToken]; ok {
			if msg.ID != "" && e.msg.ID == "" {
				e.msg.ID = msg.ID
				v.byID[msg.ID] = e
			}
			if msg.ID != "" {
				// Confirmed copy of an optimistic entry: adopt the
				// server timestamp but keep the display position.
				if !msg.SentAt.IsZero() {
					e.msg.SentAt = msg.SentAt
				}
				e.msg.Provisional = false
			}
			e.msg.Status = e.msg.Status.AtLeast(msg.Status)
			return
		}
	}
	if msg.ID != "" {
		if e, ok := v.byID[msg.ID]; ok {
			e.msg.Status = e.msg.Status.AtLeast(msg.Status)
			return
		}
	}

	v.arrivalSeq++
	e := &entry{msg: msg, arrival: v.arrivalSeq}
	if e.msg.Status == "" {
		e.msg.Status = domain.StatusSent
	}

	// Insert before the first entry with a strictly later timestamp, so
	// equal timestamps keep arrival order.
	idx := sort.Search(len(v.entries), func(i int) bool {
		return v.entries[i].msg.SentAt.After(e.msg.SentAt)
	})
	v.entries = append(v.entries, nil)
	copy(v.entries[idx+1:], v.entries[idx:])
	v.entries[idx] = e

	if e.msg.ClientToken != "" {
		v.byToken[e.msg.ClientToken] = e
	}
	if e.msg.ID != "" {
		v.byID[e.msg.ID] = e
	}
}
