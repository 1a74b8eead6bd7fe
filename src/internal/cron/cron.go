package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"molecule-lab/src/internal/storage"

	"github.com/robfig/cron/v3"
)

const reportState = "warmup_report"

// WarmupReport records the outcome of the last warmup run.
type WarmupReport struct {
	Started  time.Time         `json:"started"`
	Finished time.Time         `json:"finished"`
	OK       []string          `json:"ok"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// CronManager pre-generates sample substances on a schedule so the first
// visitor does not wait for the provider.
type CronManager struct {
	st         *storage.Storage
	generateFn func(ctx context.Context, query string) error
	c          *cron.Cron
	jobs       map[string]cron.EntryID
	running    sync.Mutex
	mu         sync.RWMutex
	timeout    time.Duration
}

func NewCronManager(st *storage.Storage, generateFn func(context.Context, string) error, timeout time.Duration) *CronManager {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &CronManager{
		st:         st,
		generateFn: generateFn,
		c:          cron.New(cron.WithSeconds()),
		jobs:       make(map[string]cron.EntryID),
		timeout:    timeout,
	}
}

func (m *CronManager) Start() {
	go m.c.Start()
}

func (m *CronManager) Stop() {
	<-m.c.Stop().Done()
}

// AddWarmup schedules a warmup over samples, replacing any previous one.
func (m *CronManager) AddWarmup(schedule string, samples []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs["warmup"]; ok {
		m.c.Remove(entryID)
		delete(m.jobs, "warmup")
	}

	list := append([]string(nil), samples...)
	entryID, err := m.c.AddFunc(schedule, func() {
		if _, err := m.RunWarmup(context.Background(), list); err != nil {
			slog.Warn("warmup skipped", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule warmup %q: %w", schedule, err)
	}
	m.jobs["warmup"] = entryID
	return nil
}

// RunWarmup generates each sample in turn. Only one run happens at a time.
func (m *CronManager) RunWarmup(ctx context.Context, samples []string) (*WarmupReport, error) {
	if !m.running.TryLock() {
		return nil, fmt.Errorf("warmup already running")
	}
	defer m.running.Unlock()

	report := &WarmupReport{Started: time.Now(), Failed: make(map[string]string)}
	slog.Info("running warmup", "samples", len(samples))
	for _, q := range samples {
		if ctx.Err() != nil {
			report.Failed[q] = ctx.Err().Error()
			continue
		}
		jobCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.generateFn(jobCtx, q)
		cancel()
		if err != nil {
			slog.Warn("warmup sample failed", "query", q, "error", err)
			report.Failed[q] = err.Error()
			continue
		}
		report.OK = append(report.OK, q)
	}
	report.Finished = time.Now()
	slog.Info("warmup finished", "ok", len(report.OK), "failed", len(report.Failed))

	if m.st != nil {
		if err := m.st.SaveState(reportState, report); err != nil {
			slog.Warn("failed to save warmup report", "error", err)
		}
	}
	return report, nil
}

// LastReport loads the report of the previous run, if any.
func (m *CronManager) LastReport() (*WarmupReport, error) {
	if m.st == nil {
		return nil, nil
	}
	var r WarmupReport
	if err := m.st.LoadState(reportState, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
