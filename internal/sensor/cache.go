package sensor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"mhw-backend/internal/models"
)

// CacheReader serves the latest raw value pushed by remote sensor nodes
type CacheReader struct {
	mu     sync.RWMutex
	latest map[string]models.Sample
	maxAge time.Duration
	now    func() time.Time
}

// NewCacheReader creates a cache; values older than maxAge are stale (0 disables)
func NewCacheReader(maxAge time.Duration) *CacheReader {
	return &CacheReader{
		latest: make(map[string]models.Sample),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Update stores a sample if it is newer than the cached one
func (c *CacheReader) Update(sample models.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.latest[sample.ChannelID]; ok && sample.Timestamp.Before(prev.Timestamp) {
		return
	}
	c.latest[sample.ChannelID] = sample
}

// Consume feeds samples from a channel into the cache until ctx ends or the channel closes
func (c *CacheReader) Consume(ctx context.Context, samples <-chan *models.Sample) {
	log.Println("SensorCache: Starting...")

	for {
		select {
		case <-ctx.Done():
			log.Println("SensorCache: Context cancelled, shutting down...")
			return

		case sample, ok := <-samples:
			if !ok {
				log.Println("SensorCache: Sample channel closed, shutting down...")
				return
			}
			c.Update(*sample)
		}
	}
}

// Read returns the cached raw value for a channel
func (c *CacheReader) Read(ctx context.Context, channelID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.RLock()
	sample, ok := c.latest[channelID]
	c.mu.RUnlock()

	if !ok {
		return 0, ErrNoData
	}

	if c.maxAge > 0 {
		if age := c.now().Sub(sample.Timestamp); age > c.maxAge {
			return 0, fmt.Errorf("%w: last sample is %s old", ErrStale, age.Round(time.Second))
		}
	}

	return sample.Value, nil
}
