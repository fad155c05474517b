package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// RecentLog keeps the last N formatted log lines for the control API
type RecentLog struct {
	mutex    sync.Mutex
	lines    []string
	next     int
	full     bool
	capacity int
}

func NewRecentLog(capacity int) *RecentLog {
	return &RecentLog{
		lines:    make([]string, capacity),
		capacity: capacity,
	}
}

func (r *RecentLog) Add(line string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Last returns up to count lines, oldest first
func (r *RecentLog) Last(count int) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if count <= 0 || count > size {
		count = size
	}

	result := make([]string, 0, count)
	start := r.next - count
	for i := 0; i < count; i++ {
		idx := (start + i + r.capacity) % r.capacity
		result = append(result, r.lines[idx])
	}
	return result
}

// recentCore is a zapcore.Core feeding a RecentLog
type recentCore struct {
	zapcore.LevelEnabler
	recent *RecentLog
}

func newRecentCore(recent *RecentLog, enabler zapcore.LevelEnabler) zapcore.Core {
	return &recentCore{LevelEnabler: enabler, recent: recent}
}

func (c *recentCore) With(fields []zapcore.Field) zapcore.Core {
	return c
}

func (c *recentCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *recentCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	c.recent.Add(fmt.Sprintf("[%s] [%s] %s",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message))
	return nil
}

func (c *recentCore) Sync() error {
	return nil
}
