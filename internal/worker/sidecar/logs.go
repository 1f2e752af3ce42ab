package sidecar

import "sync"

// LogEntry 一次请求的记录
type LogEntry struct {
	Endpoint  string `json:"endpoint"`
	IP        string `json:"ip"`
	Host      string `json:"host"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Target    string `json:"target,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// requestLog 定长环形缓冲，写满后覆盖最旧的记录
type requestLog struct {
	mu      sync.Mutex
	entries []LogEntry
	next    int
	full    bool
}

func newRequestLog(capacity int) *requestLog {
	if capacity <= 0 {
		capacity = 1000
	}
	return &requestLog{entries: make([]LogEntry, capacity)}
}

func (l *requestLog) add(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
}

// snapshot 按时间先后返回
func (l *requestLog) snapshot() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]LogEntry(nil), l.entries[:l.next]...)
	}
	out := make([]LogEntry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}
