package pgo

// Replayer drives the incremental-smoother replay loop of spec §4.6: vertex
// ids are fed in ascending order, factors become eligible once both of
// their endpoints have been seen, and the smoother is only asked to
// optimize stitch-session vertices once a cross-session loop factor has
// closed. Pending state persists across calls to Replay so vertices can be
// fed one at a time as they arrive, or in bulk.
type Replayer struct {
	Smoother *Smoother
	Queue    *Queue

	// OnVertex, if set, is called after each vertex id is processed with
	// the number of smoother updates that vertex triggered (0 if none).
	OnVertex func(id int, updates int)

	stitchOptimize bool
	pendingValues  map[int]Vector6
	pendingGraph   []Factor
}

// NewReplayer returns a replayer over a fresh smoother and factor queue.
func NewReplayer() *Replayer {
	return &Replayer{
		Smoother:      NewSmoother(),
		Queue:         NewQueue(),
		pendingValues: map[int]Vector6{},
	}
}

// AddFactor enqueues f for eligibility once both its endpoints have been
// replayed.
func (r *Replayer) AddFactor(f Factor) {
	r.Queue.Push(f)
}

// Replay walks orderedIDs (ascending, and ascending relative to any ids
// already replayed) and, for each id present in initial, inserts its
// value, drains every now-eligible factor into the pending batch, and
// optimizes when id is a prior-session vertex (id < np) or a cross-session
// loop has already closed. A batch containing a Loop or Gps factor gets
// four extra smoother updates on top of the regular batch update and its
// one relinearization pass (six total); only a Loop factor on a
// stitch-session vertex (id >= np) makes stitch optimization sticky for
// every subsequent vertex.
func (r *Replayer) Replay(orderedIDs []int, initial map[int]Vector6, np int) error {
	for _, id := range orderedIDs {
		value, ok := initial[id]
		if !ok {
			continue
		}
		r.pendingValues[id] = value

		batchHasLoop := false
		for {
			top, ok := r.Queue.Peek()
			if !ok {
				break
			}
			maxID := top.FromID
			if top.ToID > maxID {
				maxID = top.ToID
			}
			if maxID > id {
				break
			}
			f, _ := r.Queue.Pop()
			r.pendingGraph = append(r.pendingGraph, f)
			if f.Kind == Loop || f.Kind == Gps {
				batchHasLoop = true
			}
			if id >= np && f.Kind == Loop {
				r.stitchOptimize = true
			}
		}

		updates := 0
		if id < np || r.stitchOptimize {
			if err := r.Smoother.Update(r.pendingGraph, r.pendingValues); err != nil {
				return err
			}
			updates++
			if err := r.Smoother.Update(nil, nil); err != nil {
				return err
			}
			updates++
			if batchHasLoop {
				for i := 0; i < 4; i++ {
					if err := r.Smoother.Update(nil, nil); err != nil {
						return err
					}
					updates++
				}
			}
			r.pendingValues = map[int]Vector6{}
			r.pendingGraph = nil
		}
		if r.OnVertex != nil {
			r.OnVertex(id, updates)
		}
	}
	return nil
}
