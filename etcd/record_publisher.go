package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"qoerouting/common"
)

const (
	SessionPrefix = "/qoe/sessions/"
	ScorerPrefix  = "/qoe/scorers/"
)

type EtcdConfig struct {
	Endpoints      []string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxRetries     uint
	RetryInterval  time.Duration
}

func DefaultEtcdConfig() EtcdConfig {
	return EtcdConfig{
		Endpoints:      []string{"localhost:2379"},
		DialTimeout:    5 * time.Second,
		RequestTimeout: 3 * time.Second,
		MaxRetries:     5,
		RetryInterval:  200 * time.Millisecond,
	}
}

func NewClient(config EtcdConfig) (*clientv3.Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return client, nil
}

// RecordPublisher stores session reports under SessionPrefix.
type RecordPublisher struct {
	kv          clientv3.KV
	watcher     clientv3.Watcher
	publisherID string
	config      EtcdConfig
}

// NewRecordPublisher works on any KV/Watcher pair; a *clientv3.Client is
// both.
func NewRecordPublisher(kv clientv3.KV, watcher clientv3.Watcher, config EtcdConfig) *RecordPublisher {
	return &RecordPublisher{
		kv:          kv,
		watcher:     watcher,
		publisherID: fmt.Sprintf("publisher-%d", time.Now().Unix()),
		config:      config,
	}
}

func sessionKey(sessionID string) string {
	return SessionPrefix + sessionID
}

// SaveSession puts the report, retrying with exponential backoff.
func (p *RecordPublisher) SaveSession(ctx context.Context, report *common.SessionReport) error {
	if report == nil {
		return fmt.Errorf("nil session report")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", report.SessionID, err)
	}
	key := sessionKey(report.SessionID)

	b := backoff.NewExponentialBackOff()
	if p.config.RetryInterval > 0 {
		b.InitialInterval = p.config.RetryInterval
	}
	maxTries := p.config.MaxRetries
	if maxTries == 0 {
		maxTries = 1
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		putCtx, cancel := p.requestContext(ctx)
		defer cancel()
		if _, err := p.kv.Put(putCtx, key, string(data)); err != nil {
			log.Warnf("[%s] RecordPublisher.SaveSession: key=%s, attempt=%d, err=%v", p.publisherID, key, attempt, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	if err != nil {
		return fmt.Errorf("failed to publish session %s: %w", report.SessionID, err)
	}

	log.Infof("[%s] Session published: %s (experiment %d, %d metrics, %d paths)",
		p.publisherID, report.SessionID, report.Experiment, len(report.Metrics), len(report.Paths))
	return nil
}

func (p *RecordPublisher) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.RequestTimeout > 0 {
		return context.WithTimeout(ctx, p.config.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *RecordPublisher) GetSession(ctx context.Context, sessionID string) (*common.SessionReport, error) {
	resp, err := p.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("no session found: %s", sessionID)
	}
	return decodeSession(resp.Kvs[0].Value)
}

// WatchSessions streams every report put after the call until ctx is done.
func (p *RecordPublisher) WatchSessions(ctx context.Context) <-chan *common.SessionReport {
	reports := make(chan *common.SessionReport)

	go func() {
		defer close(reports)

		watchChan := p.watcher.Watch(ctx, SessionPrefix, clientv3.WithPrefix())
		for resp := range watchChan {
			for _, event := range resp.Events {
				if event.Type != clientv3.EventTypePut {
					continue
				}
				report, err := decodeSession(event.Kv.Value)
				if err != nil {
					log.Warningf("[%s] RecordPublisher.WatchSessions: %v", p.publisherID, err)
					continue
				}
				select {
				case reports <- report:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return reports
}

func decodeSession(value []byte) (*common.SessionReport, error) {
	var report common.SessionReport
	if err := json.Unmarshal(value, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if report.SessionID == "" {
		return nil, fmt.Errorf("session without id")
	}
	return &report, nil
}
