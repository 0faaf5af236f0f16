package zab

import "github.com/nicolagi/pulsefs/internal/zablog"

// Vote is one server's current ballot (spec §4.3 Election): a
// candidate identity together with the evidence (epoch, last applied
// zxid) backing that candidacy.
type Vote struct {
	ServerID string
	Epoch    uint32
	LastZxid zablog.Zxid
}

// Beats reports whether v is a strictly better candidate than other
// under the spec's deterministic tie-break: higher epoch wins; ties
// broken by higher last_zxid; ties broken by higher server id.
func (v Vote) Beats(other Vote) bool {
	if v.Epoch != other.Epoch {
		return v.Epoch > other.Epoch
	}
	if v.LastZxid != other.LastZxid {
		return other.LastZxid.Less(v.LastZxid)
	}
	return v.ServerID > other.ServerID
}
