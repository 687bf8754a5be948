// Package fifo carries gather pipe bursts from the CPU thread to a
// command consumer running on its own goroutine.
package fifo

import (
	"context"
	"sync"

	"github.com/colorfulnotion/gekko/log"
)

// Pipe is a bounded byte ring with high/low watermarks. The producer never
// blocks; crossing the high watermark fires OnHighWatermark so the CPU side
// can raise its command processor interrupt.
type Pipe struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf    []byte
	rd, wr uint64 // monotonic byte counters

	HighWatermark   int
	LowWatermark    int
	OnHighWatermark func()
	OnLowWatermark  func()
	overflowed      bool
	closed          bool

	bursts uint64
	lost   uint64
}

// New returns a pipe holding up to capacity bytes with watermarks at 3/4
// and 1/4 of it.
func New(capacity int) *Pipe {
	p := &Pipe{
		buf:           make([]byte, capacity),
		HighWatermark: capacity * 3 / 4,
		LowWatermark:  capacity / 4,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Distance is the number of unread bytes.
func (p *Pipe) Distance() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.wr - p.rd)
}

// Stats returns burst and dropped-byte counters.
func (p *Pipe) Stats() (bursts, lost uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts, p.lost
}

// Write appends one burst. Bytes beyond capacity are dropped and counted.
func (p *Pipe) Write(b []byte) {
	p.mu.Lock()
	free := len(p.buf) - int(p.wr-p.rd)
	if len(b) > free {
		p.lost += uint64(len(b) - free)
		b = b[:free]
	}
	for _, c := range b {
		p.buf[p.wr%uint64(len(p.buf))] = c
		p.wr++
	}
	p.bursts++
	fire := !p.overflowed && int(p.wr-p.rd) >= p.HighWatermark
	if fire {
		p.overflowed = true
	}
	hook := p.OnHighWatermark
	p.mu.Unlock()
	p.cond.Broadcast()
	if fire && hook != nil {
		hook()
	}
}

// Run feeds unread bytes to consume until ctx is done or Close is called.
func (p *Pipe) Run(ctx context.Context, consume func([]byte)) error {
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer stop()

	chunk := make([]byte, 0, 256)
	for {
		p.mu.Lock()
		for p.wr == p.rd && !p.closed {
			p.cond.Wait()
		}
		if p.closed && p.wr == p.rd {
			p.mu.Unlock()
			log.Debug(log.MemoryModule, "fifo consumer stopped")
			return ctx.Err()
		}
		chunk = chunk[:0]
		for pos := p.rd; pos < p.wr && len(chunk) < cap(chunk); pos++ {
			chunk = append(chunk, p.buf[pos%uint64(len(p.buf))])
		}
		p.mu.Unlock()

		consume(chunk)

		p.mu.Lock()
		p.rd += uint64(len(chunk))
		low := p.overflowed && int(p.wr-p.rd) <= p.LowWatermark
		if low {
			p.overflowed = false
		}
		hook := p.OnLowWatermark
		p.mu.Unlock()
		p.cond.Broadcast()
		if low && hook != nil {
			hook()
		}
	}
}

// Sync blocks until the consumer has processed everything written so far.
func (p *Pipe) Sync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	target := p.wr
	for p.rd < target && !p.closed {
		p.cond.Wait()
	}
}

// Close stops Run once the pipe drains.
func (p *Pipe) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}
