package probe

import "sync"

// bytePool is a pool of reusable read buffers for inbound UDP datagrams,
// the same trade-off the teacher's login.BytePool makes for packet
// buffers: avoid per-probe allocation under GC pressure.
type bytePool struct {
	pool sync.Pool
}

func newBytePool(defaultCap int) *bytePool {
	p := &bytePool{}
	p.pool.New = func() any {
		b := make([]byte, defaultCap)
		return &b
	}
	return p
}

func (p *bytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

func (p *bytePool) Put(b []byte) {
	if b == nil {
		return
	}
	b = b[:cap(b)]
	p.pool.Put(&b)
}
