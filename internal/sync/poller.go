// Package sync runs scans in the background on a fixed interval, with
// support for manual triggers from the API surface.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/mselvam/inboxzero/internal/model"
	"github.com/mselvam/inboxzero/internal/scan"
)

// scanTimeout is the maximum time allowed for one background scan.
const scanTimeout = 5 * time.Minute

// ScanRunner is the slice of the scanner the poller drives.
type ScanRunner interface {
	Scan(ctx context.Context, maxEmails int, autoDraft bool) (*model.ScanReport, error)
}

// Status describes the poller's last completed cycle.
type Status struct {
	LastRun    time.Time
	LastReport *model.ScanReport
	LastError  error
}

// Poller triggers scans on a ticker and on demand. A cycle that finds
// a scan already running is skipped silently; the scanner's
// single-flight flag stays authoritative.
type Poller struct {
	runner    ScanRunner
	interval  time.Duration
	maxEmails int
	autoDraft bool
	logger    *slog.Logger

	triggerCh chan struct{}

	mu      gosync.Mutex
	status  Status
	running bool
	stopCh  chan struct{}
}

// New creates a Poller. interval must be positive.
func New(runner ScanRunner, interval time.Duration, maxEmails int, autoDraft bool, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		runner:    runner,
		interval:  interval,
		maxEmails: maxEmails,
		autoDraft: autoDraft,
		logger:    logger,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the polling loop. The first scan runs after one full
// interval, not immediately, so startup stays fast.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop()
}

// Stop halts the polling loop.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

// Trigger requests an immediate cycle without blocking. A trigger
// arriving while one is already pending is coalesced.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// GetStatus returns the outcome of the last completed cycle.
func (p *Poller) GetStatus() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.cycle()
		case <-p.triggerCh:
			p.cycle()
		}
	}
}

func (p *Poller) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	report, err := p.runner.Scan(ctx, p.maxEmails, p.autoDraft)
	if err != nil {
		if errors.Is(err, scan.ErrScanInProgress) {
			p.logger.Debug("poll cycle skipped, scan already running")
			return
		}
		p.logger.Error("background scan failed", "err", err)
		p.setStatus(nil, err)
		return
	}

	p.setStatus(report, nil)
}

func (p *Poller) setStatus(report *model.ScanReport, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.LastRun = time.Now()
	p.status.LastError = err
	if report != nil {
		p.status.LastReport = report
	}
}
