package biz

import (
	"sort"
)

// pieceIndex orders the pieces of one version by object offset so the piece
// covering a position can be found by binary search. Pieces that returned no
// data during a read are marked exhausted and skipped afterwards.
type pieceIndex struct {
	pieces    []*PieceLocation
	exhausted []bool
	// maxEnd[i] is the largest End() among pieces[0..i]
	maxEnd []int64
}

func newPieceIndex(pieces []PieceLocation) *pieceIndex {
	idx := &pieceIndex{
		pieces:    make([]*PieceLocation, 0, len(pieces)),
		exhausted: make([]bool, len(pieces)),
	}
	for i := range pieces {
		if pieces[i].ContentLength <= 0 {
			continue
		}
		idx.pieces = append(idx.pieces, &pieces[i])
	}
	sort.SliceStable(idx.pieces, func(i, j int) bool {
		return idx.pieces[i].ObjectOffset < idx.pieces[j].ObjectOffset
	})
	idx.exhausted = idx.exhausted[:len(idx.pieces)]

	idx.maxEnd = make([]int64, len(idx.pieces))
	var m int64
	for i, p := range idx.pieces {
		m = max(m, p.End())
		idx.maxEnd[i] = m
	}
	return idx
}

// covering calls fn with the position of every piece containing pos, nearest
// start first, until fn returns false
func (idx *pieceIndex) covering(pos int64, fn func(i int) bool) {
	// first piece starting after pos
	n := sort.Search(len(idx.pieces), func(i int) bool {
		return idx.pieces[i].ObjectOffset > pos
	})
	for i := n - 1; i >= 0 && idx.maxEnd[i] > pos; i-- {
		if idx.pieces[i].End() <= pos {
			continue
		}
		if !fn(i) {
			return
		}
	}
}

// find returns a non-exhausted piece containing pos that accept allows
func (idx *pieceIndex) find(pos int64, accept func(*PieceLocation) bool) (int, bool) {
	found := -1
	idx.covering(pos, func(i int) bool {
		if idx.exhausted[i] || !accept(idx.pieces[i]) {
			return true
		}
		found = i
		return false
	})
	return found, found >= 0
}

func (idx *pieceIndex) exhaust(i int) {
	idx.exhausted[i] = true
}

// rebind points every piece stored in fileID at newRef
func (idx *pieceIndex) rebind(fileID, newRef string) {
	for _, p := range idx.pieces {
		if p.File.ID == fileID {
			p.File.FileRef = newRef
		}
	}
}

// coverageGap describes the first position of [start, end) that cannot be read
type coverageGap struct {
	pos int64
	// unreachable is set when pieces cover pos but none of their providers
	// is available
	unreachable bool
	providers   []string
}

// verify checks that [start, end) is covered by pieces accept allows
func (idx *pieceIndex) verify(start, end int64, accept func(*PieceLocation) bool) *coverageGap {
	pos := start
	for pos < end {
		next := int64(-1)
		var blocked []string
		idx.covering(pos, func(i int) bool {
			p := idx.pieces[i]
			if !accept(p) {
				blocked = append(blocked, p.File.ProviderID)
				return true
			}
			if e := p.End(); e > next {
				next = e
			}
			return true
		})
		if next < 0 {
			return &coverageGap{pos: pos, unreachable: len(blocked) > 0, providers: blocked}
		}
		pos = next
	}
	return nil
}
