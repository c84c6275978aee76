package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"qoerouting/scoring"
)

// ScorerSpec is the value stored under ScorerPrefix + "<links>".
type ScorerSpec struct {
	Links   int       `json:"links"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

func ParseScorerSpec(value []byte) (*ScorerSpec, *scoring.LinearScorer, error) {
	var spec ScorerSpec
	if err := json.Unmarshal(value, &spec); err != nil {
		return nil, nil, fmt.Errorf("invalid scorer spec: %w", err)
	}
	scorer := scoring.NewLinearScorer(spec.Weights, spec.Bias)
	if err := scorer.Validate(spec.Links); err != nil {
		return nil, nil, err
	}
	return &spec, scorer, nil
}

func linkCountFromKey(key string) (int, error) {
	suffix := strings.TrimPrefix(key, ScorerPrefix)
	n, err := strconv.Atoi(suffix)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("key %s does not name a link count", key)
	}
	return n, nil
}

// ScorerWatcher keeps the registry in sync with the scorers stored in etcd.
type ScorerWatcher struct {
	kv       clientv3.KV
	watcher  clientv3.Watcher
	registry *scoring.Registry
	workerID string
}

func NewScorerWatcher(kv clientv3.KV, watcher clientv3.Watcher, registry *scoring.Registry) *ScorerWatcher {
	return &ScorerWatcher{
		kv:       kv,
		watcher:  watcher,
		registry: registry,
		workerID: fmt.Sprintf("scorer-watcher-%d", time.Now().Unix()),
	}
}

// Apply handles one put or delete of key. Malformed values are logged and
// leave the registry untouched.
func (w *ScorerWatcher) Apply(key string, value []byte, deleted bool) error {
	if deleted {
		links, err := linkCountFromKey(key)
		if err != nil {
			return err
		}
		w.registry.Remove(links)
		log.Infof("[%s] Scorer removed: links=%d", w.workerID, links)
		return nil
	}

	keyLinks, err := linkCountFromKey(key)
	if err != nil {
		return err
	}
	spec, scorer, err := ParseScorerSpec(value)
	if err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	if spec.Links != keyLinks {
		return fmt.Errorf("key %s names %d links but value has %d", key, keyLinks, spec.Links)
	}
	if err := w.registry.Replace(spec.Links, scorer); err != nil {
		return err
	}
	log.Infof("[%s] Scorer installed: links=%d, weights=%d, bias=%v", w.workerID, spec.Links, len(spec.Weights), spec.Bias)
	return nil
}

// Load applies every scorer currently stored.
func (w *ScorerWatcher) Load(ctx context.Context) error {
	resp, err := w.kv.Get(ctx, ScorerPrefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("failed to list scorers: %w", err)
	}
	for _, kv := range resp.Kvs {
		if err := w.Apply(string(kv.Key), kv.Value, false); err != nil {
			log.Warningf("[%s] ScorerWatcher.Load: %v", w.workerID, err)
		}
	}
	return nil
}

// Start watches ScorerPrefix until ctx is cancelled.
func (w *ScorerWatcher) Start(ctx context.Context) error {
	log.Infof("[%s] Watcher starting on %s", w.workerID, ScorerPrefix)

	watchChan := w.watcher.Watch(ctx, ScorerPrefix, clientv3.WithPrefix())
	for {
		select {
		case <-ctx.Done():
			log.Infof("[%s] Watcher shutting down", w.workerID)
			return nil

		case resp, ok := <-watchChan:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watch channel closed")
			}
			if err := resp.Err(); err != nil {
				log.Warningf("[%s] ScorerWatcher.Start: watch err=%v", w.workerID, err)
				continue
			}
			for _, event := range resp.Events {
				deleted := event.Type == clientv3.EventTypeDelete
				if err := w.Apply(string(event.Kv.Key), event.Kv.Value, deleted); err != nil {
					log.Warningf("[%s] ScorerWatcher.Start: %v", w.workerID, err)
				}
			}
		}
	}
}
