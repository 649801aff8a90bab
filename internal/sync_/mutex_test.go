package sync_

import (
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestMutexedSwap(t *testing.T) {
	assert := assert_.New(t)
	m := NewMutexed(123)
	assert.Equal(123, m.Swap(456))
	assert.Equal(456, m.Swap(0))
}

func TestMutexedRace(t *testing.T) {
	assert := assert_.New(t)
	m := NewMutexed(map[string]int{})
	var start Event
	var wg sync.WaitGroup

	// Increment by 2500 with 50 goroutines in parallel
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = m.Locked(func(counts map[string]int) error {
					counts["n"]++
					return nil
				})
			}
		}()
	}

	start.Set()
	wg.Wait()

	var total int
	_ = m.Locked(func(counts map[string]int) error {
		total = counts["n"]
		return nil
	})
	assert.Equal(2500, total)
}
