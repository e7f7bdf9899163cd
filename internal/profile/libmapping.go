package profile

import (
	"fmt"
	"sort"
)

// libRange is one currently-active AVMA mapping.
type libRange struct {
	startAVMA              uint64
	endAVMA                uint64
	relativeAddressAtStart uint32
	info                   LibMappingInfo
}

func (r libRange) covers(avma uint64) bool { return avma >= r.startAVMA && avma < r.endAVMA }

// LibMappingOpQueue is the time-ordered, append-only log of library
// mapping operations for one process. Events must arrive in
// non-decreasing timestamp order: that ordering is the queue's only
// way of knowing which Add a later Remove refers to. At any timestamp
// T, the set of ranges reconstructed by replaying ops up to and
// including T is disjoint.
type LibMappingOpQueue struct {
	ops []LibMapping
	// active mirrors the effect of ops replayed up to the last op
	// appended, sorted by startAVMA; kept incrementally so frame
	// resolution at "now" (the common case, appending then querying
	// immediately) doesn't replay the whole log.
	active []libRange
}

// Append adds one operation to the queue. It panics on an out-of-order
// timestamp (spec: out-of-order lib mappings are a fatal input error,
// not a recoverable one) and returns an error for anything else that
// violates the disjointness invariant (removing an AVMA that isn't
// currently mapped).
func (q *LibMappingOpQueue) Append(op LibMapping) error {
	if len(q.ops) > 0 && op.Timestamp < q.ops[len(q.ops)-1].Timestamp {
		panic(fmt.Sprintf("profile: lib mapping op at t=%v arrived after t=%v", op.Timestamp, q.ops[len(q.ops)-1].Timestamp))
	}

	switch op.Kind {
	case LibMappingAdd:
		r := libRange{
			startAVMA:              op.StartAVMA,
			endAVMA:                op.EndAVMA,
			relativeAddressAtStart: op.RelativeAddressAtStart,
			info:                   op.Info,
		}
		for _, existing := range q.active {
			if existing.startAVMA < r.endAVMA && r.startAVMA < existing.endAVMA {
				return fmt.Errorf("profile: lib mapping [0x%x,0x%x) overlaps active [0x%x,0x%x)", r.startAVMA, r.endAVMA, existing.startAVMA, existing.endAVMA)
			}
		}
		q.active = append(q.active, r)
		sort.Slice(q.active, func(i, j int) bool { return q.active[i].startAVMA < q.active[j].startAVMA })

	case LibMappingRemove:
		idx := -1
		for i, r := range q.active {
			if r.startAVMA == op.StartAVMA {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("profile: lib mapping remove at 0x%x has no matching active range", op.StartAVMA)
		}
		q.active = append(q.active[:idx], q.active[idx+1:]...)

	case LibMappingClear:
		q.active = nil
	}

	q.ops = append(q.ops, op)
	return nil
}

// Lookup returns the range covering avma as of the most recently
// appended operation (the common "resolve now" case).
func (q *LibMappingOpQueue) Lookup(avma uint64) (handleInfo LibMappingInfo, relativeAddress uint32, ok bool) {
	for _, r := range q.active {
		if r.covers(avma) {
			rel := r.relativeAddressAtStart + uint32(avma-r.startAVMA)
			return r.info, rel, true
		}
	}
	return LibMappingInfo{}, 0, false
}

// LookupAt reconstructs the ledger as of timestamp t (inclusive) by
// replaying every appended op with Timestamp <= t, then resolves avma
// against that reconstruction. Used for out-of-order sample flush,
// where a sample's timestamp may predate the most recent lib mapping
// op appended to the queue.
func (q *LibMappingOpQueue) LookupAt(t Timestamp, avma uint64) (handleInfo LibMappingInfo, relativeAddress uint32, ok bool) {
	var active []libRange
	for _, op := range q.ops {
		if op.Timestamp > t {
			break
		}
		switch op.Kind {
		case LibMappingAdd:
			active = append(active, libRange{
				startAVMA:              op.StartAVMA,
				endAVMA:                op.EndAVMA,
				relativeAddressAtStart: op.RelativeAddressAtStart,
				info:                   op.Info,
			})
		case LibMappingRemove:
			for i, r := range active {
				if r.startAVMA == op.StartAVMA {
					active = append(active[:i], active[i+1:]...)
					break
				}
			}
		case LibMappingClear:
			active = nil
		}
	}
	for _, r := range active {
		if r.covers(avma) {
			rel := r.relativeAddressAtStart + uint32(avma-r.startAVMA)
			return r.info, rel, true
		}
	}
	return LibMappingInfo{}, 0, false
}
