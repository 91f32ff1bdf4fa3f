package main

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/RyanBlaney/sonido-key/analysis"
)

func TestSegmentFlags(t *testing.T) {
	tests := []struct {
		name    string
		start   float64
		end     float64
		want    analysis.Segment
		wantErr bool
	}{
		{"whole file", 0, 0, analysis.Full, false},
		{"start and end", 1.5, 4, analysis.Segment{Start: 1500 * time.Millisecond, End: 4 * time.Second}, false},
		{"negative start", -1, 0, analysis.Segment{}, true},
		{"end before start", 5, 2, analysis.Segment{}, true},
		{"huge start", 1e12, 0, analysis.Segment{}, true},
		{"infinite end", 0, math.Inf(1), analysis.Segment{}, true},
		{"nan start", math.NaN(), 0, analysis.Segment{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := segment(tt.start, tt.end)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("segment(%v, %v) = %+v, want error", tt.start, tt.end, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("segment: %v", err)
			}
			if got != tt.want {
				t.Errorf("segment = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeAllOrderAndErrors(t *testing.T) {
	pool := analysis.NewPool(2)
	defer pool.Close()

	analyze := func(ctx context.Context, file string) (*analysis.Result, error) {
		if file == "bad.mp3" {
			return nil, errors.New("decode failed")
		}
		return &analysis.Result{Key: file + " key"}, nil
	}

	calls := 0
	files := []string{"a.mp3", "bad.mp3", "c.mp3"}
	results := analyzeAll(context.Background(), pool, files, analyze, func(time.Duration) { calls++ })

	if calls != len(files) {
		t.Errorf("progress called %d times, want %d", calls, len(files))
	}
	for i, r := range results {
		if r.File != files[i] {
			t.Errorf("results[%d].File = %q, want %q", i, r.File, files[i])
		}
	}
	if results[0].Result == nil || results[0].Key != "a.mp3 key" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Result != nil || results[1].Error != "decode failed" {
		t.Errorf("results[1] = %+v", results[1])
	}
}

func TestAnalyzeAllCancelledLeavesNoResult(t *testing.T) {
	pool := analysis.NewPool(1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	analyze := func(jobCtx context.Context, file string) (*analysis.Result, error) {
		close(started)
		<-jobCtx.Done()
		// Keep running after the caller gave up, then report success
		time.Sleep(20 * time.Millisecond)
		return &analysis.Result{Key: "late"}, nil
	}

	go func() {
		<-started
		cancel()
	}()
	results := analyzeAll(ctx, pool, []string{"a.mp3"}, analyze, func(time.Duration) {})

	if results[0].Result != nil {
		t.Errorf("abandoned job produced a result: %+v", results[0].Result)
	}
	if results[0].Error == "" {
		t.Error("cancelled file has no error")
	}

	// Close waits for the abandoned job to finish
	pool.Close()
}
