package occurrence

import "time"

// HistoryEntryWire es el esquema público de una entrada de historial.
type HistoryEntryWire struct {
	FromStatus Status    `json:"fromStatus"`
	ToStatus   Status    `json:"toStatus"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	Reason     string    `json:"reason,omitempty"`
}

func (h HistoryEntry) Wire() HistoryEntryWire {
	return HistoryEntryWire{
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		Actor:      h.Actor,
		Timestamp:  h.Timestamp.UTC(),
		Reason:     h.Reason,
	}
}

func HistoryToWire(in []HistoryEntry) []HistoryEntryWire {
	out := make([]HistoryEntryWire, 0, len(in))
	for _, h := range in {
		out = append(out, h.Wire())
	}
	return out
}
