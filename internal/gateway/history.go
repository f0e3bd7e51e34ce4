package gateway

import "sync"

// envelopeRecord is one broadcast envelope kept for gap backfill.
type envelopeRecord struct {
	channelSeq int64
	envelope   []byte
}

// channelHistory keeps the newest envelopes of one channel in a ring.
// Envelopes arrive in channel_seq order, so the ring is ordered too.
type channelHistory struct {
	mu    sync.RWMutex
	ring  []envelopeRecord
	head  int // index of the oldest record
	count int
}

func newChannelHistory(capacity int) *channelHistory {
	if capacity <= 0 {
		capacity = 100
	}
	return &channelHistory{ring: make([]envelopeRecord, capacity)}
}

// push records an envelope, evicting the oldest when full.
func (h *channelHistory) push(channelSeq int64, envelope []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec := envelopeRecord{channelSeq: channelSeq, envelope: append([]byte(nil), envelope...)}
	if h.count < len(h.ring) {
		h.ring[(h.head+h.count)%len(h.ring)] = rec
		h.count++
		return
	}
	h.ring[h.head] = rec
	h.head = (h.head + 1) % len(h.ring)
}

// between returns the envelopes with channel_seq in [from, to]. complete is
// false when part of that range was already evicted.
func (h *channelHistory) between(from, to int64) (out [][]byte, complete bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return nil, false
	}
	for i := 0; i < h.count; i++ {
		rec := h.ring[(h.head+i)%len(h.ring)]
		if rec.channelSeq > to {
			break
		}
		if rec.channelSeq >= from {
			out = append(out, rec.envelope)
		}
	}
	return out, from >= h.ring[h.head].channelSeq
}

func (h *channelHistory) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
