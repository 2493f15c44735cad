package realtime

import "sync"

// maxContentParts bounds the content index a transcript event may address.
const maxContentParts = 16

// History keeps an ordered copy of the conversation items a session has
// seen. Transports feed it every inbound event through [History.Apply].
type History struct {
	mu    sync.Mutex
	items []Item
	index map[string]int
}

var _ HistoryView = (*History)(nil)

// Items returns a copy of the history, oldest first.
func (h *History) Items() []Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Item, len(h.items))
	for i, it := range h.items {
		it.Content = append([]ContentPart(nil), it.Content...)
		out[i] = it
	}
	return out
}

// Apply updates the history from an inbound event. Events that do not touch
// conversation items are ignored.
func (h *History) Apply(ev ServerEvent) {
	switch ev.Type {
	case EventItemCreated, EventOutputItemAdded, EventOutputItemDone:
		if ev.Item != nil && ev.Item.ID != "" {
			h.upsert(*ev.Item)
		}
	case EventInputTranscriptCompleted:
		h.setTranscript(ev.ItemID, ev.ContentIndex, ev.Transcript, PartInputAudio)
	case EventAudioTranscriptDone:
		h.setTranscript(ev.ItemID, ev.ContentIndex, ev.Transcript, PartAudio)
	case EventAudioDelta:
		h.markAudio(ev.ItemID)
	case EventResponseDone:
		if ev.Response != nil {
			for _, it := range ev.Response.Output {
				if it.ID != "" {
					h.upsert(it)
				}
			}
		}
	}
}

// Reset drops all items.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
	h.index = nil
}

func (h *History) upsert(it Item) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == nil {
		h.index = make(map[string]int)
	}
	if i, ok := h.index[it.ID]; ok {
		prev := h.items[i]
		if it.Role == "" {
			it.Role = prev.Role
		}
		// Keep locally learned transcripts when the update carries none.
		if len(it.Content) == 0 || (!it.HasContent() && prev.HasContent()) {
			it.Content = prev.Content
		}
		h.items[i] = it
		return
	}
	h.index[it.ID] = len(h.items)
	h.items = append(h.items, it)
}

func (h *History) setTranscript(itemID string, idx int, transcript, partType string) {
	if itemID == "" || transcript == "" || idx < 0 || idx >= maxContentParts {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.index[itemID]
	if !ok {
		return
	}
	it := &h.items[i]
	for len(it.Content) <= idx {
		it.Content = append(it.Content, ContentPart{Type: partType})
	}
	it.Content[idx].Transcript = transcript
}

func (h *History) markAudio(itemID string) {
	if itemID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	i, ok := h.index[itemID]
	if !ok {
		return
	}
	it := &h.items[i]
	if !it.HasAudio() {
		it.Content = append(it.Content, ContentPart{Type: PartAudio})
	}
}
