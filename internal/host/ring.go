package host

import "sync"

// messageLog keeps the most recent messages sent to a session. The admin API
// shows them next to each session.
type messageLog struct {
	mu    sync.Mutex
	buf   []string
	start int // index of the oldest entry
	count int
}

func newMessageLog(capacity int) *messageLog {
	if capacity < 1 {
		capacity = 1
	}
	return &messageLog{buf: make([]string, capacity)}
}

func (l *messageLog) add(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count < len(l.buf) {
		l.buf[(l.start+l.count)%len(l.buf)] = text
		l.count++
		return
	}
	// Full: overwrite the oldest entry.
	l.buf[l.start] = text
	l.start = (l.start + 1) % len(l.buf)
}

// last returns up to n messages, oldest first. n <= 0 means all of them.
func (l *messageLog) last(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]string, n)
	for i := range out {
		out[i] = l.buf[(l.start+l.count-n+i)%len(l.buf)]
	}
	return out
}
