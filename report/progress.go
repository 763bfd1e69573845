package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressBar renders "Time: hh:mm:ss [bar] pct% title" on one line,
// redrawn after every step.
type ProgressBar struct {
	w     io.Writer
	title string
	bar   progress.Model
	total int
	done  int
	start time.Time
	now   func() time.Time
}

func NewProgressBar(w io.Writer, title string) *ProgressBar {
	return &ProgressBar{
		w:     w,
		title: title,
		bar:   progress.New(progress.WithWidth(40), progress.WithoutPercentage(), progress.WithSolidFill("39")),
		now:   time.Now,
	}
}

func (p *ProgressBar) Start(total int) {
	p.total = total
	p.done = 0
	p.start = p.now()
	p.render()
}

func (p *ProgressBar) Increment() {
	if p.done < p.total {
		p.done++
	}
	p.render()
}

func (p *ProgressBar) Finish() {
	p.render()
	fmt.Fprintln(p.w)
}

// Percent is the completed fraction, 1 when there is nothing to do.
func (p *ProgressBar) Percent() float64 {
	if p.total == 0 {
		return 1
	}
	return float64(p.done) / float64(p.total)
}

func (p *ProgressBar) render() {
	pct := p.Percent()
	fmt.Fprintf(p.w, "\rTime: %s %s %3.0f%% %s",
		formatElapsed(p.now().Sub(p.start)), p.bar.ViewAs(pct), pct*100, p.title)
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
