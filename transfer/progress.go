package transfer

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Progress logs transfer progress at most once per second. A nil
// *Progress is valid and logs nothing.
type Progress struct {
	logger      *slog.Logger
	op          string
	transferred int64
	total       int64
	startTime   time.Time
	lastLog     time.Time
}

// NewProgress returns a Progress for op ("download", "upload"). total is
// negative when unknown.
func NewProgress(logger *slog.Logger, op string, total int64) *Progress {
	now := time.Now()
	return &Progress{
		logger:    logger,
		op:        op,
		total:     total,
		startTime: now,
		lastLog:   now,
	}
}

// SetTotal records the total size once it becomes known.
func (p *Progress) SetTotal(total int64) {
	if p == nil {
		return
	}
	p.total = total
}

// Set records an absolute transferred count. Resumable uploads use it
// because the server can acknowledge fewer bytes than were sent.
func (p *Progress) Set(transferred int64) {
	if p == nil {
		return
	}
	p.transferred = transferred
	p.tick()
}

// Add records n more transferred bytes.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	p.transferred += n
	p.tick()
}

func (p *Progress) tick() {
	if time.Since(p.lastLog) >= time.Second {
		p.lastLog = time.Now()
		p.log(p.op + "ing")
	}

	if p.total >= 0 && p.transferred == p.total {
		p.log(p.op + " complete")
	}
}

func (p *Progress) log(msg string) {
	elapsed := time.Since(p.startTime)
	attrs := []any{
		"elapsed", elapsed.Round(time.Millisecond),
		"transferred", p.transferred,
		"total", p.total,
		"mbps", fmt.Sprintf("%.2f", float64(p.transferred)/elapsed.Seconds()/(1024*1024)),
	}
	if p.total > 0 {
		attrs = append(attrs, "progress", fmt.Sprintf("%.1f%%", float64(p.transferred)/float64(p.total)*100))
	}
	p.logger.Info(msg, attrs...)
}

// Writer returns an io.Writer that forwards to w and counts what it wrote.
func (p *Progress) Writer(w io.Writer) io.Writer {
	if p == nil {
		return w
	}
	return &progressWriter{w: w, p: p}
}

type progressWriter struct {
	w io.Writer
	p *Progress
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.p.Add(int64(n))
	return n, err
}
