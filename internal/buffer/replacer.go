package buffer

// victim is a slot chosen to hold a block that is not cached yet.
type victim struct {
	idx      int
	fromFree bool
}

// chooseUnpinned picks the slot to (re)bind. Caller must hold p.mu.
//
// Order of preference:
//  1. head of the free list (slots never bound to a block);
//  2. the unpinned mapped slot with the highest non-negative LSN;
//  3. any unpinned mapped slot, in map iteration order.
//
// The free-list head is only peeked; the caller removes it once the slot has
// been bound successfully.
func (p *Pool) chooseUnpinned() (victim, bool) {
	if p.free.Length() > 0 {
		idx := p.free.Peek().(int)
		p.logger.Debug("buffer allocated from free list", "index", idx)
		return victim{idx: idx, fromFree: true}, true
	}

	best := -1
	var bestLSN int64 = -1
	for _, idx := range p.table {
		buf := p.frames[idx]
		if buf.IsPinned() {
			continue
		}
		if lsn := buf.LSN(); lsn >= 0 && lsn > bestLSN {
			best, bestLSN = idx, lsn
		}
	}
	if best >= 0 {
		p.logger.Debug("buffer chosen for replacement", "index", best, "lsn", bestLSN)
		return victim{idx: best}, true
	}

	for _, idx := range p.table {
		if !p.frames[idx].IsPinned() {
			p.logger.Debug("buffer chosen for replacement", "index", idx)
			return victim{idx: idx}, true
		}
	}
	return victim{}, false
}
