package deduper_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/notiva/notiva-sync/deduper"
)

func TestAddIfNotExists(t *testing.T) {
	d := deduper.New()
	ctx := context.Background()

	assert.True(t, d.AddIfNotExists(ctx, "msg-1"))
	assert.False(t, d.AddIfNotExists(ctx, "msg-1"))
	assert.True(t, d.AddIfNotExists(ctx, "msg-2"))
	assert.Equal(t, 2, d.Len())
}

func TestAddIfNotExistsConcurrent(t *testing.T) {
	d := deduper.New()
	ctx := context.Background()

	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < 100; j++ {
				d.AddIfNotExists(ctx, fmt.Sprintf("key-%d", j))
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 100, d.Len())
}
