package mediafetch

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
)

var (
	PriorityHighest int16 = math.MinInt16
	PriorityDefault int16 = 0
	PriorityLowest  int16 = math.MaxInt16
)

// A MatchFunc validates and normalizes a URL. SourceURL and CanonicalID must be set on success.
type MatchFunc = func(string) (*MediaRef, error)

// A Provider matches any URL it knows how to handle, giving a MediaRef that backends can resolve.
type Provider struct {
	Name  string
	Match MatchFunc
	// Priority of the matcher, lower (including negative) means matching earlier.
	Priority int16
}

func (p Provider) WithPriority(priority int16) Provider {
	p.Priority = priority
	return p
}

// A ProviderRegistry is a collection of Provider instances which can be used to try to match URLs. Safe for
// concurrent use.
type ProviderRegistry struct {
	mu          sync.RWMutex
	providers   []*Provider
	providerMap map[string]*Provider
}

// Add registers a Provider with the ProviderRegistry. Provider.Name and Provider.Match must be set, and
// Provider.Name must be unique within the ProviderRegistry.
func (r *ProviderRegistry) Add(p Provider) error {
	if p.Name == "" || p.Match == nil {
		return ErrInvalidProvider
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providerMap == nil {
		r.providerMap = make(map[string]*Provider)
	}
	if _, ok := r.providerMap[p.Name]; ok {
		return ErrDuplicateProvider
	}
	r.providerMap[p.Name] = &p
	r.providers = append(r.providers, &p)
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
	return nil
}

// MustAdd wraps Add but panics if there is an error.
func (r *ProviderRegistry) MustAdd(p Provider) {
	if err := r.Add(p); err != nil {
		panic(fmt.Errorf("failed to add provider %q: %w", p.Name, err))
	}
}

// List returns the names of registered providers in priority order.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

// Match a string against each Provider in priority order. If none match, the error wraps ErrNoMatch along with each
// provider's reason.
func (r *ProviderRegistry) Match(s string) (MediaRef, error) {
	r.mu.RLock()
	providers := append([]*Provider(nil), r.providers...)
	r.mu.RUnlock()

	result := multierror.Append(nil, ErrNoMatch)
	for _, p := range providers {
		if ref, err := p.Match(s); err != nil {
			result = multierror.Append(result, multierror.Prefix(err, fmt.Sprintf("[%v]", p.Name)))
		} else if ref == nil || ref.SourceURL == "" || ref.CanonicalID == "" {
			result = multierror.Append(result, fmt.Errorf("[%v] incomplete match", p.Name))
		} else {
			matched := *ref
			matched.Provider = p.Name
			return matched, nil
		}
	}
	return MediaRef{}, result
}

var DefaultProviderRegistry ProviderRegistry
