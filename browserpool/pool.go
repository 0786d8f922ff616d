// Package browserpool owns the bounded set of headless-browser process
// handles shared by every extraction worker. Browsers are expensive OS
// processes: the pool creates them lazily, recycles healthy ones, and
// discards crashed ones so the next acquire starts fresh.
package browserpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// ErrPoolClosed is returned by Acquire after Shutdown.
var ErrPoolClosed = errors.New("browserpool: pool closed")

// Handle wraps one live browser process.
type Handle struct {
	browser *rod.Browser
	cleanup func()

	mu  sync.Mutex
	bad bool
}

// Page opens a new tab on the handle's browser. With stealth enabled the
// page masks common automation fingerprints before any navigation.
func (h *Handle) Page(useStealth bool) (*rod.Page, error) {
	if h.browser == nil {
		return nil, errors.New("browserpool: handle has no browser")
	}
	if useStealth {
		return stealth.Page(h.browser)
	}
	return h.browser.Page(proto.TargetCreateTarget{})
}

// MarkBad flags the handle as crashed or unresponsive. The pool destroys
// flagged handles on release instead of recycling them.
func (h *Handle) MarkBad() {
	h.mu.Lock()
	h.bad = true
	h.mu.Unlock()
}

func (h *Handle) isBad() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bad
}

func (h *Handle) close() {
	if h.cleanup != nil {
		h.cleanup()
	}
}

// Options configures the pool.
type Options struct {
	Size      int
	Headless  bool
	BinPath   string
	ProxyURL  string
	UserAgent string
}

// Pool is a bounded browser-handle pool. Acquire blocks when all slots
// are busy; Release must be called on every exit path.
type Pool struct {
	size  int
	idle  chan *Handle
	start func(context.Context) (*Handle, error)

	mu     sync.Mutex
	live   int
	closed bool
}

// New builds a pool. No browser is launched until the first Acquire.
func New(opts Options) *Pool {
	size := opts.Size
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		size: size,
		idle: make(chan *Handle, size),
	}
	p.start = func(ctx context.Context) (*Handle, error) {
		return launch(ctx, opts)
	}
	return p
}

// Acquire returns a live handle, launching a browser if the pool is below
// capacity, otherwise blocking until one is released or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	for {
		select {
		case h := <-p.idle:
			if h.isBad() {
				p.destroy(h)
				continue
			}
			return h, nil
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if p.live < p.size {
			p.live++
			p.mu.Unlock()

			h, err := p.start(ctx)
			if err != nil {
				p.mu.Lock()
				p.live--
				p.mu.Unlock()
				return nil, fmt.Errorf("browserpool: launch: %w", err)
			}
			return h, nil
		}
		p.mu.Unlock()

		select {
		case h := <-p.idle:
			if h.isBad() {
				p.destroy(h)
				continue
			}
			return h, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a handle to the pool. Bad handles are destroyed; their
// slot frees up and the next Acquire launches a replacement lazily.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || h.isBad() {
		p.destroy(h)
		return
	}

	select {
	case p.idle <- h:
	default:
		// Should not happen: the channel holds p.size handles. Destroy
		// rather than leak the process.
		p.destroy(h)
	}
}

// Shutdown terminates every idle browser and refuses further acquires.
// Handles still checked out are terminated when released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case h := <-p.idle:
			p.destroy(h)
		default:
			return
		}
	}
}

// Live reports the number of browser processes currently alive.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pool) destroy(h *Handle) {
	h.close()
	p.mu.Lock()
	p.live--
	p.mu.Unlock()
	slog.Debug("browser handle destroyed", slog.Int("live", p.Live()))
}
