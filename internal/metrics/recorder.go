package metrics

import (
	"sync"
	"time"
)

// DefaultCapacity 是每个列表默认保留的条目数。
const DefaultCapacity = 100

// SecurityEvent 是一条可疑活动记录。
type SecurityEvent struct {
	Kind     string    `json:"kind"`
	UserID   uint      `json:"user_id,omitempty"`
	Username string    `json:"username,omitempty"`
	IP       string    `json:"ip,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// SlowRequest 是一条慢请求记录。
type SlowRequest struct {
	Method   string        `json:"method"`
	Path     string        `json:"path"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

// ring 是定长环形缓冲，写满后覆盖最旧的条目。
type ring[T any] struct {
	items []T
	next  int
	full  bool
}

func newRing[T any](capacity int) ring[T] {
	return ring[T]{items: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.items[r.next] = v
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot 按从新到旧返回副本。
func (r *ring[T]) snapshot() []T {
	n := r.next
	if r.full {
		n = len(r.items)
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.items)) % len(r.items)
		out = append(out, r.items[idx])
	}
	return out
}

// Recorder 在进程内保存最近的安全事件与慢请求，供内部监控接口读取。
type Recorder struct {
	mu       sync.Mutex
	security ring[SecurityEvent]
	slow     ring[SlowRequest]
}

// NewRecorder 创建 Recorder，capacity <= 0 时使用 DefaultCapacity。
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		security: newRing[SecurityEvent](capacity),
		slow:     newRing[SlowRequest](capacity),
	}
}

// RecordSecurityEvent 追加一条安全事件并计数。
func (r *Recorder) RecordSecurityEvent(ev SecurityEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	securityEventsTotal.WithLabelValues(ev.Kind).Inc()
	r.mu.Lock()
	r.security.push(ev)
	r.mu.Unlock()
}

// RecordSlowRequest 追加一条慢请求。
func (r *Recorder) RecordSlowRequest(req SlowRequest) {
	r.mu.Lock()
	r.slow.push(req)
	r.mu.Unlock()
}

// SecurityEvents 返回最近的安全事件，最新的在前。
func (r *Recorder) SecurityEvents() []SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.security.snapshot()
}

// SlowRequests 返回最近的慢请求，最新的在前。
func (r *Recorder) SlowRequests() []SlowRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slow.snapshot()
}
