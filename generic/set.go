package generic

type Void struct{}

func NewVoid() Void {
	return Void{}
}

// Set is an unordered collection of unique items. Not safe for concurrent mutation.
type Set[T comparable] interface {
	Add(items ...T) int
	Clear()
	Contains(items ...T) bool
	Clone() Set[T]
	Count() int
	Remove(item T) bool
	ToSlice() []T
}

func NewSet[T comparable](items ...T) Set[T] {
	res := make(set[T], len(items))
	res.Add(items...)
	return &res
}

type set[T comparable] map[T]Void

// Add inserts each item, returning how many were not already present.
func (s *set[T]) Add(items ...T) int {
	added := 0
	for _, item := range items {
		if _, found := (*s)[item]; found {
			continue
		}
		(*s)[item] = NewVoid()
		added++
	}
	return added
}

func (s *set[T]) Clear() {
	*s = make(set[T])
}

func (s *set[T]) Clone() Set[T] {
	res := make(set[T], len(*s))
	for item := range *s {
		res[item] = NewVoid()
	}
	return &res
}

// Contains is true only if every item is in the set.
func (s *set[T]) Contains(items ...T) bool {
	for _, item := range items {
		if _, found := (*s)[item]; !found {
			return false
		}
	}
	return true
}

func (s *set[T]) Count() int {
	return len(*s)
}

func (s *set[T]) Remove(item T) bool {
	if _, found := (*s)[item]; !found {
		return false
	}
	delete(*s, item)
	return true
}

func (s *set[T]) ToSlice() []T {
	slice := make([]T, 0, s.Count())
	for item := range *s {
		slice = append(slice, item)
	}
	return slice
}
