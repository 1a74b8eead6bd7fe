package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"molecule-lab/src/internal/storage"
)

func TestRunWarmup(t *testing.T) {
	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var seen []string
	m := NewCronManager(st, func(ctx context.Context, q string) error {
		mu.Lock()
		seen = append(seen, q)
		mu.Unlock()
		if q == "unobtainium" {
			return errors.New("unknown substance")
		}
		return nil
	}, time.Second)

	report, err := m.RunWarmup(context.Background(), []string{"水", "unobtainium", "甲烷"})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.OK) != 2 || report.Failed["unobtainium"] == "" {
		t.Errorf("unexpected report %+v", report)
	}
	if len(seen) != 3 {
		t.Errorf("generated %v", seen)
	}

	last, err := m.LastReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(last.OK) != 2 {
		t.Errorf("persisted report %+v", last)
	}
}

func TestAddWarmupSchedule(t *testing.T) {
	done := make(chan string, 4)
	m := NewCronManager(nil, func(ctx context.Context, q string) error {
		select {
		case done <- q:
		default:
		}
		return nil
	}, time.Second)
	if err := m.AddWarmup("not a schedule", nil); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := m.AddWarmup("* * * * * *", []string{"水"}); err != nil {
		t.Fatal(err)
	}
	m.Start()
	defer m.Stop()

	select {
	case q := <-done:
		if q != "水" {
			t.Errorf("warmed %q", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled warmup did not run")
	}
}
