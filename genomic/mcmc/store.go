package mcmc

// Store is a fixed-capacity ring of posterior samples for one chain. Once
// full, each Push overwrites the oldest sample.
type Store struct {
	params []string
	buf    [][]float64
	start  int
	n      int
	total  int
}

// NewStore panics if capacity is not positive.
func NewStore(params []string, capacity int) *Store {
	if capacity <= 0 {
		panic("mcmc: store capacity must be positive")
	}
	return &Store{params: params, buf: make([][]float64, capacity)}
}

// Push appends one sample. The store keeps the slice.
func (s *Store) Push(sample []float64) {
	s.total++
	if s.n < len(s.buf) {
		s.buf[(s.start+s.n)%len(s.buf)] = sample
		s.n++
		return
	}
	s.buf[s.start] = sample
	s.start = (s.start + 1) % len(s.buf)
}

// Len returns the number of retained samples.
func (s *Store) Len() int { return s.n }

// Total returns the number of samples ever pushed.
func (s *Store) Total() int { return s.total }

// Params names the columns of every sample.
func (s *Store) Params() []string { return s.params }

// Samples returns the retained samples, oldest first.
func (s *Store) Samples() [][]float64 {
	out := make([][]float64, s.n)
	for i := range out {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}

// Column returns the trace of parameter p, oldest first.
func (s *Store) Column(p int) []float64 {
	out := make([]float64, s.n)
	for i := range out {
		out[i] = s.buf[(s.start+i)%len(s.buf)][p]
	}
	return out
}
