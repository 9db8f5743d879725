package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dmitrijs2005/dropbin/internal/archive"
	"github.com/dmitrijs2005/dropbin/internal/bundle"
	"github.com/dmitrijs2005/dropbin/internal/progress"
)

const barWidth = 30

// progressLine redraws a single status line on w.
type progressLine struct {
	mu      sync.Mutex
	w       io.Writer
	printed bool
	last    string
}

func newProgressLine(w io.Writer) *progressLine { return &progressLine{w: w} }

func (p *progressLine) draw(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	p.printed = true
	fmt.Fprintf(p.w, "\r%s\033[K", line)
}

// Upload renders an upload snapshot.
func (p *progressLine) Upload(s progress.Snapshot) {
	done := 0
	for _, f := range s.Files {
		if f.Phase == bundle.PhaseComplete {
			done++
		}
	}
	p.draw(fmt.Sprintf("%s %5.1f%%  %d/%d files", bar(s.Display), s.Display, done, len(s.Files)))
}

// Download renders an archive snapshot.
func (p *progressLine) Download(s archive.Progress) {
	switch s.Overall {
	case archive.OverallDownloading:
		p.draw(fmt.Sprintf("%s %3d%%  downloading", bar(float64(s.Percent)), s.Percent))
	default:
		done := 0
		for _, f := range s.Files {
			if f.Phase == archive.PhaseDone || f.Phase == archive.PhaseError {
				done++
			}
		}
		p.draw(fmt.Sprintf("%s %d/%d files", s.Overall, done, len(s.Files)))
	}
}

// Done ends the line.
func (p *progressLine) Done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
	}
}

func bar(percent float64) string {
	n := int(percent / 100 * barWidth)
	if n < 0 {
		n = 0
	}
	if n > barWidth {
		n = barWidth
	}
	return "[" + strings.Repeat("#", n) + strings.Repeat("-", barWidth-n) + "]"
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
