package corpus

import "sync"

// DefaultPRandom is the default probability of sampling uniformly from
// the whole corpus instead of the favored set (spec.md §4.5).
const DefaultPRandom = 0.1

// RNG is the subset of *math/rand.Rand the Corpus needs for parent
// selection.
type RNG interface {
	Float64() float64
	Intn(n int) int
}

// Corpus is the append-only, in-memory set of admitted Inputs (spec.md
// §4.5). It owns the Favorites Map (spec.md §3) jointly with every
// admission.
type Corpus struct {
	mu sync.Mutex

	nextID uint64
	order  []uint64
	inputs map[uint64]*Input

	// favorites maps branch id -> the id of its current cover-set
	// representative (spec.md §3 "Favorites Map").
	favorites map[uint32]uint64
}

// New returns an empty Corpus.
func New() *Corpus {
	return &Corpus{
		inputs:    make(map[uint64]*Input),
		favorites: make(map[uint32]uint64),
	}
}

// Admit assigns in an id, stores it, and updates the Favorites Map for
// every branch in in.Signature, reassigning ownership only when in
// strictly dominates the incumbent (spec.md §4.3/§4.5). It returns the
// assigned id.
func (c *Corpus) Admit(in *Input) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	in.ID = c.nextID
	if in.FavoredBranches == nil {
		in.FavoredBranches = make(map[uint32]struct{})
	}
	c.inputs[in.ID] = in
	c.order = append(c.order, in.ID)

	for branch := range in.Signature {
		incumbentID, exists := c.favorites[branch]
		if !exists {
			c.assignFavorite(branch, in)
			continue
		}
		incumbent := c.inputs[incumbentID]
		if dominates(in, incumbent) {
			delete(incumbent.FavoredBranches, branch)
			c.assignFavorite(branch, in)
		}
	}

	return in.ID
}

func (c *Corpus) assignFavorite(branch uint32, in *Input) {
	c.favorites[branch] = in.ID
	in.FavoredBranches[branch] = struct{}{}
}

// Get returns the Input with the given id, or nil if it doesn't exist.
func (c *Corpus) Get(id uint64) *Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs[id]
}

// Len returns the number of admitted inputs.
func (c *Corpus) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// FavoredInputs returns the current cover-set (one entry per branch,
// deduplicated by input id), in a stable order for deterministic
// sampling under a fixed seed (spec.md §8 property 5).
func (c *Corpus) FavoredInputs() []*Input {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[uint64]struct{}, len(c.favorites))
	var out []*Input
	// Iterate in admission order, not map order, so that repeated runs
	// with the same seed produce the same favored-set ordering.
	for _, id := range c.order {
		if _, ok := seen[id]; ok {
			continue
		}
		if _, isFavored := c.isFavoriteLocked(id); isFavored {
			seen[id] = struct{}{}
			out = append(out, c.inputs[id])
		}
	}
	return out
}

func (c *Corpus) isFavoriteLocked(id uint64) (uint32, bool) {
	for branch, favID := range c.favorites {
		if favID == id {
			return branch, true
		}
	}
	return 0, false
}

// All returns every admitted input, in admission order.
func (c *Corpus) All() []*Input {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Input, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.inputs[id])
	}
	return out
}

// SelectParent samples a parent input per spec.md §4.5: with probability
// 1 - pRandom from FavoredInputs(), otherwise uniformly from the full
// corpus. Returns nil if the corpus is empty.
func (c *Corpus) SelectParent(rng RNG, pRandom float64) *Input {
	favored := c.FavoredInputs()
	all := c.All()
	if len(all) == 0 {
		return nil
	}

	if len(favored) > 0 && rng.Float64() >= pRandom {
		return favored[rng.Intn(len(favored))]
	}
	return all[rng.Intn(len(all))]
}
