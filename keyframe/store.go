package keyframe

import "github.com/viam-labs/map-stitch/scancontext"

// Store holds every keyframe of both sessions in a single dense global id
// space: ids [0, Np) are the prior session, ids [Np, Np+Ns) are the stitch
// session (spec §3). Index is the place-descriptor candidate pool and only
// ever holds the prior session's descriptors, mirroring the source's
// separate sc_manager (prior) / sc_manager_stitch (stitch) managers: the
// stitch session is what gets matched against that pool, never added to
// it.
type Store struct {
	Np int

	Keyframes []Keyframe
	Index     *scancontext.Index

	sealed bool

	// PriorLoops, StitchLoops, and NewLoops are the three loop-record maps
	// of spec §3: persisted prior-internal loops, persisted stitch-internal
	// loops, and loops newly detected this run, all keyed from_id -> to_id
	// in the global id space. Kept as plain tables, not an object graph,
	// per SPEC_FULL §9.
	PriorLoops  map[int]int
	StitchLoops map[int]int
	NewLoops    map[int]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		Index:       scancontext.NewIndex(),
		PriorLoops:  map[int]int{},
		StitchLoops: map[int]int{},
		NewLoops:    map[int]int{},
	}
}

// Add appends k as the next keyframe, assigning it the next dense global
// id. The prior session must be fully added before any stitch keyframe;
// call SealPrior once the prior session is loaded to fix Np. Only
// keyframes added before SealPrior enter Index, so the descriptor
// candidate pool never grows past the prior session.
func (s *Store) Add(k Keyframe) int {
	id := len(s.Keyframes)
	k.ID = id
	k.Pose.ID = id
	s.Keyframes = append(s.Keyframes, k)
	if !s.sealed {
		s.Index.Add(k.Descriptor)
	}
	return id
}

// SealPrior fixes Np at the current keyframe count and closes Index to any
// further descriptors. Call once after the prior session has been fully
// loaded and before any stitch keyframe is added.
func (s *Store) SealPrior() {
	s.Np = len(s.Keyframes)
	s.sealed = true
}

// Ns returns the number of stitch-session keyframes currently held.
func (s *Store) Ns() int {
	return len(s.Keyframes) - s.Np
}

// Len returns the total number of keyframes across both sessions.
func (s *Store) Len() int {
	return len(s.Keyframes)
}

// At returns the keyframe with global id.
func (s *Store) At(id int) Keyframe {
	return s.Keyframes[id]
}

// SetPose overwrites the pose of the keyframe with global id, e.g. after
// rigid pre-alignment (spec §4.5) or optimizer write-back (spec §4.6).
func (s *Store) SetPose(id int, pose Pose6D) {
	s.Keyframes[id].Pose = pose
}

// PriorIDs returns every global id in [0, Np).
func (s *Store) PriorIDs() []int {
	ids := make([]int, s.Np)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// StitchIDs returns every global id in [Np, Np+Ns).
func (s *Store) StitchIDs() []int {
	ids := make([]int, s.Ns())
	for i := range ids {
		ids[i] = s.Np + i
	}
	return ids
}
