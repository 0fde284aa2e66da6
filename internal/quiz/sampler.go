package quiz

import (
	"math/rand"
	"sync"
	"time"
)

// Sampler draws the question set of a session. It is safe for concurrent use.
type Sampler struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSampler(src rand.Source) *Sampler {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Sampler{rnd: rand.New(src)}
}

// Sample returns exactly count questions. The first min(count, len(pool))
// are distinct; any overflow is drawn with replacement from the same pool.
func (s *Sampler) Sample(pool []Question, count int) ([]Question, error) {
	if len(pool) == 0 {
		return nil, ErrInsufficientQuestions
	}
	if count < 1 {
		return nil, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(pool)
	out := make([]Question, 0, count)
	for _, i := range s.rnd.Perm(n) {
		if len(out) == count {
			break
		}
		out = append(out, pool[i])
	}
	for len(out) < count {
		out = append(out, pool[s.rnd.Intn(n)])
	}
	return out, nil
}

// excludeFlagged drops every question whose id is in flagged.
func excludeFlagged(pool []Question, flagged []string) []Question {
	if len(flagged) == 0 {
		return pool
	}
	skip := make(map[string]struct{}, len(flagged))
	for _, id := range flagged {
		skip[id] = struct{}{}
	}
	out := make([]Question, 0, len(pool))
	for _, q := range pool {
		if _, ok := skip[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
