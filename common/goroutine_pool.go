package common

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	log "github.com/sirupsen/logrus"
)

type PoolConfig struct {
	MaxWorkers int
}

func NewPool(config PoolConfig) (*ants.Pool, error) {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = 8
	}
	pool, err := ants.NewPool(config.MaxWorkers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	log.Infof("NewPool: workers=%d", config.MaxWorkers)
	return pool, nil
}
