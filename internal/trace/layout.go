package trace

// Layout describes the memory organisation a trace was recorded against. It
// maps every entry to a lane: one horizontal row per bank.
type Layout struct {
	Channels   int
	Bankgroups int
	Banks      int
}

// Lanes returns the number of banks in the layout, 0 when unset.
func (l Layout) Lanes() int {
	if l.Channels <= 0 || l.Bankgroups <= 0 || l.Banks <= 0 {
		return 0
	}
	return l.Channels * l.Bankgroups * l.Banks
}

// Lane returns the row entry e is drawn on. Without a layout every command
// gets its own lane.
func (l Layout) Lane(e Entry) uint32 {
	if l.Lanes() == 0 {
		return uint32(e.CmdID)
	}
	ch := clampIndex(int(e.Channel), l.Channels)
	bg := clampIndex(int(e.Bankgroup), l.Bankgroups)
	b := clampIndex(int(e.Bank), l.Banks)
	return uint32((ch*l.Bankgroups+bg)*l.Banks + b)
}

func clampIndex(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
