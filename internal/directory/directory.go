// Package directory maintains the list of chat-eligible peers and their
// per-peer unread counters.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Alicia-74/libroredsocial/internal/api"
	"github.com/Alicia-74/libroredsocial/internal/domain"
	"github.com/Alicia-74/libroredsocial/pkg/log"
)

// PeerAPI is the slice of the REST client the directory needs.
type PeerAPI interface {
	Following(ctx context.Context, userID string) ([]domain.Peer, error)
	Followers(ctx context.Context, userID string) ([]domain.Peer, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int64, error)
	MarkConversationRead(ctx context.Context, senderID, receiverID string) error
}

var _ PeerAPI = (*api.Client)(nil)

type peerEntry struct {
	peer    domain.Peer
	ordinal int // insertion order, the stable tail sort key
}

// Directory tracks peers and unread counters for one user session.
type Directory struct {
	api    PeerAPI
	selfID string
	sf     singleflight.Group

	mu      sync.Mutex
	peers   map[string]*peerEntry
	unread  map[string]int64
	nextOrd int
}

func New(peerAPI PeerAPI, selfID string) *Directory {
	return &Directory{
		api:    peerAPI,
		selfID: selfID,
		peers:  make(map[string]*peerEntry),
		unread: make(map[string]int64),
	}
}

// LoadPeers fetches the union of following and followers, de-duplicated by
// id. Concurrent calls collapse into one fetch. On failure the peer set is
// left untouched and an error is returned for a dismissible notice; the
// directory never panics the caller.
func (d *Directory) LoadPeers(ctx context.Context) ([]domain.Peer, error) {
	_, err, _ := d.sf.Do("peers", func() (interface{}, error) {
		following, err := d.api.Following(ctx, d.selfID)
		if err != nil {
			return nil, fmt.Errorf("load following: %w", err)
		}
		followers, err := d.api.Followers(ctx, d.selfID)
		if err != nil {
			return nil, fmt.Errorf("load followers: %w", err)
		}

		d.mu.Lock()
		for _, p := range following {
			d.upsertPeer(p)
		}
		for _, p := range followers {
			d.upsertPeer(p)
		}
		d.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return []domain.Peer{}, err
	}
	return d.Peers(), nil
}

// RefreshUnread replaces the counters with a fresh bulk fetch. Used at
// startup and by the safety-net reconciliation poll.
func (d *Directory) RefreshUnread(ctx context.Context) error {
	v, err, _ := d.sf.Do("unread", func() (interface{}, error) {
		return d.api.UnreadCounts(ctx, d.selfID)
	})
	if err != nil {
		return fmt.Errorf("refresh unread counts: %w", err)
	}
	d.ApplySnapshot(v.(map[string]int64))
	return nil
}

// ApplySnapshot replaces all counters with a full per-peer snapshot.
func (d *Directory) ApplySnapshot(counts map[string]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unread = make(map[string]int64, len(counts))
	for peerID, n := range counts {
		if n < 0 {
			n = 0
		}
		d.unread[peerID] = n
		d.ensurePeer(peerID)
	}
}

// ApplyDelta adjusts a single peer's counter. Counters never go negative.
func (d *Directory) ApplyDelta(peerID string, delta int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.unread[peerID] + delta
	if n < 0 {
		n = 0
	}
	d.unread[peerID] = n
	d.ensurePeer(peerID)
}

// NoteMessage records a message authored by peerID for list ordering and
// previews. The counter increments only when the conversation is not open;
// the caller decides that.
func (d *Directory) NoteMessage(peerID, preview string, msg *domain.Message, countUnread bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.ensurePeer(peerID)
	if msg.SentAt.After(e.peer.LastMessageAt) {
		e.peer.LastMessage = preview
		e.peer.LastMessageAt = msg.SentAt
	}
	if countUnread {
		d.unread[peerID]++
	}
}

// MarkRead zeroes the counter optimistically and issues the mark-as-read
// request. If the request fails the counter is restored and the error
// surfaced.
func (d *Directory) MarkRead(ctx context.Context, peerID string) error {
	d.mu.Lock()
	prev := d.unread[peerID]
	d.unread[peerID] = 0
	d.mu.Unlock()

	if err := d.api.MarkConversationRead(ctx, peerID, d.selfID); err != nil {
		// Add prev back rather than overwrite, so increments that landed
		// while the request was in flight are kept.
		d.mu.Lock()
		d.unread[peerID] += prev
		d.mu.Unlock()
		log.L().Warn().Err(err).Str(log.FieldPeerID, peerID).Msg("mark-as-read failed, counter restored")
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

// Unread returns the counter for one peer.
func (d *Directory) Unread(peerID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread[peerID]
}

// UnreadCounts returns a copy of all non-zero counters.
func (d *Directory) UnreadCounts() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.unread))
	for peerID, n := range d.unread {
		if n > 0 {
			out[peerID] = n
		}
	}
	return out
}

// Peers returns the peer list in presentation order: peers with unread
// messages first, then by most-recent-message time descending, then peers
// with no message history in stable insertion order.
func (d *Directory) Peers() []domain.Peer {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]*peerEntry, 0, len(d.peers))
	for _, e := range d.peers {
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		aUnread := d.unread[a.peer.ID] > 0
		bUnread := d.unread[b.peer.ID] > 0
		if aUnread != bUnread {
			return aUnread
		}
		aHist := !a.peer.LastMessageAt.IsZero()
		bHist := !b.peer.LastMessageAt.IsZero()
		if aHist != bHist {
			return aHist
		}
		if aHist && !a.peer.LastMessageAt.Equal(b.peer.LastMessageAt) {
			return a.peer.LastMessageAt.After(b.peer.LastMessageAt)
		}
		return a.ordinal < b.ordinal
	})

	out := make([]domain.Peer, len(entries))
	for i, e := range entries {
		out[i] = e.peer
	}
	return out
}

// upsertPeer merges fetched peer metadata, keeping local preview state.
func (d *Directory) upsertPeer(p domain.Peer) {
	if p.ID == "" || p.ID == d.selfID {
		return
	}
	if e, ok := d.peers[p.ID]; ok {
		e.peer.Username = p.Username
		e.peer.AvatarURL = p.AvatarURL
		if p.LastMessageAt.After(e.peer.LastMessageAt) {
			e.peer.LastMessage = p.LastMessage
			e.peer.LastMessageAt = p.LastMessageAt
		}
		return
	}
	d.peers[p.ID] = &peerEntry{peer: p, ordinal: d.nextOrd}
	d.nextOrd++
}

// ensurePeer creates a placeholder entry for a peer we have messages from
// but no profile for yet. Caller holds d.mu.
func (d *Directory) ensurePeer(peerID string) *peerEntry {
	if e, ok := d.peers[peerID]; ok {
		return e
	}
	e := &peerEntry{peer: domain.Peer{ID: peerID}, ordinal: d.nextOrd}
	d.nextOrd++
	d.peers[peerID] = e
	return e
}
