package cache

import (
	"container/list"
	"sync"
	"time"
)

type LRUOpts struct {
	Size int
	// Now overrides the clock used for TTL expiry.
	Now func() time.Time
}

type entry struct {
	key       string
	val       any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type getReq struct {
	key  string
	resp chan getResp
}

type getResp struct {
	val any
	ok  bool
}

type putReq struct {
	key string
	val any
	ttl time.Duration
}

type lenReq struct {
	resp chan int
}

// LRU is an in-memory cache with a fixed number of slots. All state is owned
// by a single goroutine; callers talk to it over channels.
type LRU struct {
	getCh    chan getReq
	putCh    chan putReq
	delCh    chan string
	lenCh    chan lenReq
	done     chan struct{}
	closeMu  sync.Once
	now      func() time.Time
	capacity int
}

func NewLRU(opts LRUOpts) *LRU {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &LRU{
		getCh:    make(chan getReq),
		putCh:    make(chan putReq),
		delCh:    make(chan string),
		lenCh:    make(chan lenReq),
		done:     make(chan struct{}),
		now:      opts.Now,
		capacity: opts.Size,
	}

	go l.run()

	return l
}

func (l *LRU) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *LRU) Get(key string) (any, bool) {
	if l.closed() {
		return nil, false
	}
	resp := make(chan getResp, 1)
	select {
	case l.getCh <- getReq{key: key, resp: resp}:
	case <-l.done:
		return nil, false
	}
	r := <-resp
	return r.val, r.ok
}

func (l *LRU) Put(key string, val any, opts ...PutOption) {
	po := newPutOptions(opts...)
	select {
	case l.putCh <- putReq{key: key, val: val, ttl: po.TTL}:
	case <-l.done:
	}
}

func (l *LRU) Delete(key string) {
	select {
	case l.delCh <- key:
	case <-l.done:
	}
}

// Len returns the number of entries, expired ones included until touched.
func (l *LRU) Len() int {
	if l.closed() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case l.lenCh <- lenReq{resp: resp}:
	case <-l.done:
		return 0
	}
	return <-resp
}

// Close stops the cache goroutine. Operations after Close are no-ops.
func (l *LRU) Close() {
	l.closeMu.Do(func() { close(l.done) })
}

func (l *LRU) run() {
	ll := list.New()
	items := make(map[string]*list.Element)

	remove := func(ele *list.Element) {
		ll.Remove(ele)
		delete(items, ele.Value.(*entry).key)
	}

	for {
		select {
		case <-l.done:
			return

		case req := <-l.getCh:
			ele, ok := items[req.key]
			if !ok {
				req.resp <- getResp{}
				continue
			}
			e := ele.Value.(*entry)
			if e.expired(l.now()) {
				remove(ele)
				req.resp <- getResp{}
				continue
			}
			ll.MoveToFront(ele)
			req.resp <- getResp{val: e.val, ok: true}

		case req := <-l.putCh:
			var expiresAt time.Time
			if req.ttl > 0 {
				expiresAt = l.now().Add(req.ttl)
			}
			if ele, ok := items[req.key]; ok {
				ll.MoveToFront(ele)
				e := ele.Value.(*entry)
				e.val = req.val
				e.expiresAt = expiresAt
				continue
			}
			items[req.key] = ll.PushFront(&entry{key: req.key, val: req.val, expiresAt: expiresAt})
			if ll.Len() > l.capacity {
				if last := ll.Back(); last != nil {
					remove(last)
				}
			}

		case key := <-l.delCh:
			if ele, ok := items[key]; ok {
				remove(ele)
			}

		case req := <-l.lenCh:
			req.resp <- ll.Len()
		}
	}
}

var _ Cache = (*LRU)(nil)
