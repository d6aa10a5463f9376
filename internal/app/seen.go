package app

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// SeenSet remembers recently delivered item ids up to a fixed capacity.
// Re-seeing an id does not refresh it, so the oldest insertion is evicted
// first.
type SeenSet struct {
	ids *lru.Cache[string, struct{}]
}

func NewSeenSet(capacity int) *SeenSet {
	ids, err := lru.New[string, struct{}](max(capacity, 1))
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &SeenSet{ids: ids}
}

// Add records id and reports whether it was not already present.
func (s *SeenSet) Add(id string) bool {
	found, _ := s.ids.ContainsOrAdd(id, struct{}{})
	return !found
}

func (s *SeenSet) Contains(id string) bool {
	return s.ids.Contains(id)
}

func (s *SeenSet) Len() int {
	return s.ids.Len()
}
