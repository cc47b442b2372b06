package train

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// progress writes the console lines of a run:
//
//	[ 1,000/300,000 ][ 0.998010 ][ 0:02:41 ][ Loss: 0.4127 ]
//	[ 1,000/300,000 ][ 0.998010 ][ 0:05:03 ][ Average mIoU: 0.6321 ]
type progress struct {
	w      io.Writer
	p      *message.Printer
	nSteps int
}

func newProgress(w io.Writer, nSteps int) *progress {
	return &progress{w: w, p: message.NewPrinter(language.English), nSteps: nSteps}
}

func (pr *progress) prefix(step int, lr float32, elapsed time.Duration) string {
	return pr.p.Sprintf("[ %d/%d ]", step, pr.nSteps) +
		fmt.Sprintf("[ %4f ][ %s ]", lr, formatElapsed(elapsed))
}

func (pr *progress) loss(step int, lr float32, elapsed time.Duration, loss float64) {
	fmt.Fprintf(pr.w, "%s[ Loss: %.4f ]\n", pr.prefix(step, lr, elapsed), loss)
}

func (pr *progress) miou(step int, lr float32, elapsed time.Duration, miou float64) {
	fmt.Fprintf(pr.w, "%s[ Average mIoU: %.4f ]\n", pr.prefix(step, lr, elapsed), miou)
}

// formatElapsed renders whole seconds as H:MM:SS.
func formatElapsed(d time.Duration) string {
	s := int64(d.Round(time.Second) / time.Second)
	if s < 0 {
		s = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
}
