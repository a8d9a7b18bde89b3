package membership

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// NameParser parses private names, remembering recent results. Join and
// leave traffic repeats the same few session names, so most lookups hit.
type NameParser struct {
	cache *lru.Cache[string, PrivateName]
}

// NewNameParser creates a parser caching up to size parsed names.
func NewNameParser(size int) (*NameParser, error) {
	cache, err := lru.New[string, PrivateName](size)
	if err != nil {
		return nil, err
	}
	return &NameParser{cache: cache}, nil
}

// Parse returns the parsed form of s. Invalid names are not cached.
func (p *NameParser) Parse(s string) (PrivateName, error) {
	if pn, ok := p.cache.Get(s); ok {
		return pn, nil
	}
	pn, err := ParsePrivateName(s)
	if err != nil {
		return PrivateName{}, err
	}
	p.cache.Add(s, pn)
	return pn, nil
}
