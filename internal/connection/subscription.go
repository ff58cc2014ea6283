package connection

import (
	"net/url"
	"strings"
	"sync"

	"github.com/rickgao/pricepulse/internal/model"
)

// SubscriptionSet is the ordered, de-duplicated set of subscribed assets.
type SubscriptionSet struct {
	mu    sync.RWMutex
	order []string
	index map[string]struct{}
}

// NewSubscriptionSet creates a set holding the given assets in order.
func NewSubscriptionSet(assets []string) *SubscriptionSet {
	s := &SubscriptionSet{index: make(map[string]struct{}, len(assets))}
	for _, id := range assets {
		s.Add(id)
	}
	return s
}

// Add inserts id after normalizing it. Returns false if it was already
// present or empty.
func (s *SubscriptionSet) Add(id string) bool {
	id = model.NormalizeAsset(id)
	if id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Contains reports whether id is subscribed.
func (s *SubscriptionSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[model.NormalizeAsset(id)]
	return ok
}

// List returns a copy of the assets in insertion order.
func (s *SubscriptionSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of subscribed assets.
func (s *SubscriptionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// FeedURL builds <base>/prices?assets=a,b,c for the current set.
func (s *SubscriptionSet) FeedURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/prices"

	assets := s.List()
	escaped := make([]string, len(assets))
	for i, id := range assets {
		escaped[i] = url.QueryEscape(id)
	}
	u.RawQuery = "assets=" + strings.Join(escaped, ",")

	return u.String(), nil
}
