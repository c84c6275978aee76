package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"qoerouting/common"
)

// SessionSummary is one row of sessions_index.json.
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	Experiment int       `json:"experiment"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Metrics    int       `json:"metrics"`
	Paths      int       `json:"paths"`
	File       string    `json:"file"`
}

// FileManager writes every session report as JSON under dataDir and keeps
// an index of them with its MD5.
type FileManager struct {
	dataDir   string
	indexFile string

	indexLock sync.RWMutex
	index     []SessionSummary

	hashLock  sync.RWMutex
	indexHash string

	// guarded by indexLock
	hashUpdateTrigger chan struct{}
	closed            bool
}

func NewFileManager(dataDir string) (*FileManager, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dataDir, err)
	}
	manager := &FileManager{
		dataDir:           dataDir,
		indexFile:         filepath.Join(dataDir, "sessions_index.json"),
		hashUpdateTrigger: make(chan struct{}, 1),
	}
	manager.loadIndex()
	manager.calculateHash()
	go manager.hashUpdateListener()
	return manager, nil
}

func (fm *FileManager) loadIndex() {
	fm.indexLock.Lock()
	defer fm.indexLock.Unlock()

	data, err := os.ReadFile(fm.indexFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("FileManager.loadIndex: read %s failed, err=%v", fm.indexFile, err)
		}
		return
	}
	var index []SessionSummary
	if err := json.Unmarshal(data, &index); err != nil {
		log.Warningf("FileManager.loadIndex: error unmarshalling %s: %v", fm.indexFile, err)
		return
	}
	fm.index = index
	log.Infof("FileManager.loadIndex: loaded %d sessions from %s", len(index), fm.indexFile)
}

func (fm *FileManager) hashUpdateListener() {
	for range fm.hashUpdateTrigger {
		fm.calculateHash()
	}
}

// triggerHashUpdate must be called with indexLock held.
func (fm *FileManager) triggerHashUpdate() {
	if fm.closed {
		return
	}
	select {
	case fm.hashUpdateTrigger <- struct{}{}:
	default:
	}
}

func sessionFileName(report *common.SessionReport) string {
	return fmt.Sprintf("session_%03d_%s.json", report.Experiment, report.SessionID)
}

// SaveSession writes the report file and appends it to the index.
func (fm *FileManager) SaveSession(ctx context.Context, report *common.SessionReport) error {
	if report == nil {
		return fmt.Errorf("nil session report")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	name := sessionFileName(report)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", report.SessionID, err)
	}
	if err := os.WriteFile(filepath.Join(fm.dataDir, name), data, 0644); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", name, err)
	}

	fm.indexLock.Lock()
	defer fm.indexLock.Unlock()

	index := append(fm.index, SessionSummary{
		SessionID:  report.SessionID,
		Experiment: report.Experiment,
		StartedAt:  report.StartedAt,
		EndedAt:    report.EndedAt,
		Metrics:    len(report.Metrics),
		Paths:      len(report.Paths),
		File:       name,
	})
	indexData, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session index: %w", err)
	}
	if err := os.WriteFile(fm.indexFile, indexData, 0644); err != nil {
		return fmt.Errorf("failed to write session index: %w", err)
	}
	fm.index = index
	fm.triggerHashUpdate()

	log.Infof("FileManager.SaveSession: session=%s, experiment=%d, file=%s",
		report.SessionID, report.Experiment, name)
	return nil
}

// LoadSession reads a stored report back by session id.
func (fm *FileManager) LoadSession(sessionID string) (*common.SessionReport, error) {
	fm.indexLock.RLock()
	var file string
	for _, s := range fm.index {
		if s.SessionID == sessionID {
			file = s.File
			break
		}
	}
	fm.indexLock.RUnlock()

	if file == "" {
		return nil, fmt.Errorf("session %s not found in index", sessionID)
	}
	data, err := os.ReadFile(filepath.Join(fm.dataDir, file))
	if err != nil {
		return nil, fmt.Errorf("failed to read session file %s: %w", file, err)
	}
	var report common.SessionReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session file %s: %w", file, err)
	}
	return &report, nil
}

func (fm *FileManager) Sessions() []SessionSummary {
	fm.indexLock.RLock()
	defer fm.indexLock.RUnlock()
	out := make([]SessionSummary, len(fm.index))
	copy(out, fm.index)
	return out
}

func calculateFileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (fm *FileManager) calculateHash() string {
	fm.indexLock.RLock()
	defer fm.indexLock.RUnlock()
	hash, err := calculateFileMD5(fm.indexFile)
	if err != nil {
		log.Warningf("FileManager.calculateHash: index hash failed, err=%v", err)
		return fm.CachedIndexHash()
	}
	fm.hashLock.Lock()
	fm.indexHash = hash
	fm.hashLock.Unlock()
	log.Debugf("FileManager.calculateHash: indexHash=%s", hash)
	return hash
}

// IndexHash recomputes and returns the MD5 of sessions_index.json, empty
// when no session was stored yet.
func (fm *FileManager) IndexHash() string {
	return fm.calculateHash()
}

// CachedIndexHash returns the hash from the last background refresh.
func (fm *FileManager) CachedIndexHash() string {
	fm.hashLock.RLock()
	defer fm.hashLock.RUnlock()
	return fm.indexHash
}

func (fm *FileManager) Close() {
	fm.indexLock.Lock()
	defer fm.indexLock.Unlock()
	if !fm.closed {
		fm.closed = true
		close(fm.hashUpdateTrigger)
	}
}
