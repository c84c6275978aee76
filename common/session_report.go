package common

import "time"

// MetricRecord is one scored candidate: label "<n> Link Path", the feature
// vector fed to the scorer and the resulting score.
type MetricRecord struct {
	Label    string    `json:"label"`
	Src      string    `json:"src"`
	Dst      string    `json:"dst"`
	Path     []string  `json:"path"`
	Features []float64 `json:"features"`
	Score    float64   `json:"score"`
	At       time.Time `json:"at"`
}

type PathRecord struct {
	Src   string    `json:"src"`
	Dst   string    `json:"dst"`
	Path  []string  `json:"path"`
	Phase string    `json:"phase"`
	Score float64   `json:"score"`
	At    time.Time `json:"at"`
}

type HostSnapshot struct {
	Hostname    string  `json:"hostname"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsedPct  float64 `json:"mem_used_percent"`
	Load1       float64 `json:"load1"`
	NumCPU      int     `json:"num_cpu"`
	UptimeSecs  uint64  `json:"uptime_secs"`
	CollectedAt int64   `json:"collected_at"`
}

type SessionReport struct {
	SessionID  string         `json:"session_id"`
	Experiment int            `json:"experiment"`
	StartedAt  time.Time      `json:"started_at"`
	EndedAt    time.Time      `json:"ended_at"`
	Metrics    []MetricRecord `json:"metrics"`
	Paths      []PathRecord   `json:"paths"`
	Host       *HostSnapshot  `json:"host,omitempty"`
}
