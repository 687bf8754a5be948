package fifo

import (
	"github.com/colorfulnotion/gekko/ppc"
)

// Port is the gather pipe write port. Guest stores to it land in the state
// page buffer; Update moves whole bursts into the pipe.
type Port struct {
	st   *ppc.State
	pipe *Pipe
}

func NewPort(st *ppc.State, pipe *Pipe) *Port {
	return &Port{st: st, pipe: pipe}
}

// Read of the write port returns zero.
func (p *Port) Read(uint32, int) uint64 { return 0 }

// Write appends the big-endian bytes of v.
func (p *Port) Write(_ uint32, size int, v uint64) {
	var b [8]byte
	for i := 0; i < size; i++ {
		b[i] = byte(v >> (8 * uint(size-1-i)))
	}
	p.st.AppendGatherPipe(b[:size])
	p.Check()
}

// Check flushes once a burst is complete.
func (p *Port) Check() {
	if p.st.GatherPipeCount() >= ppc.GatherPipeSize {
		p.Update()
	}
}

// Update sends every complete burst and keeps the remainder buffered.
func (p *Port) Update() {
	data := p.st.GatherPipeBytes()
	n := len(data) / ppc.GatherPipeSize * ppc.GatherPipeSize
	if n == 0 {
		return
	}
	for off := 0; off < n; off += ppc.GatherPipeSize {
		p.pipe.Write(data[off : off+ppc.GatherPipeSize])
	}
	rest := append([]byte(nil), data[n:]...)
	p.st.ResetGatherPipe()
	p.st.AppendGatherPipe(rest)
}
