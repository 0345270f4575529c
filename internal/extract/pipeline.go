package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// PageBreak separates the text of consecutive non-empty pages.
const PageBreak = "\n\n--- PAGE BREAK ---\n\n"

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Page is the cleaned text of one page, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Pipeline turns document bytes into text through a Decoder.
type Pipeline struct {
	decoder Decoder
	logger  *slog.Logger
}

// New creates a Pipeline. A nil decoder makes every job fail with
// KindLibraryUnavailable.
func New(d Decoder, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{decoder: d, logger: logger}
}

// NewPDF creates a Pipeline backed by PDFDecoder.
func NewPDF(logger *slog.Logger) *Pipeline {
	return New(PDFDecoder{}, logger)
}

// Start creates a pending job over data. Nothing is decoded until the
// job's pages are iterated.
func (p *Pipeline) Start(data []byte) *Job {
	return &Job{pipeline: p, data: data, status: StatusPending}
}

// Extract runs a job to completion and returns the assembled text.
func (p *Pipeline) Extract(ctx context.Context, data []byte) (string, error) {
	job := p.Start(data)
	for _, err := range job.Pages(ctx) {
		if err != nil {
			return "", err
		}
	}
	return job.Text(), nil
}

// Job is a single-use extraction over one document.
type Job struct {
	pipeline *Pipeline
	data     []byte

	mu        sync.Mutex
	status    Status
	kind      Kind
	pageCount int
	processed int
	text      string
	consumed  bool
}

// Status returns the current state.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// FailureKind returns the failure kind once the job has failed.
func (j *Job) FailureKind() Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.kind
}

// Progress returns pages processed and the total page count.
func (j *Job) Progress() (processed, total int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.processed, j.pageCount
}

// Text returns the assembled text. It is empty until the job is done.
func (j *Job) Text() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusDone {
		return ""
	}
	return j.text
}

// Pages yields each page in document order. A failure is yielded once as
// a non-nil error and ends the sequence; text of earlier pages is then
// discarded. Only the first iteration does any work.
func (j *Job) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		j.mu.Lock()
		if j.consumed {
			j.mu.Unlock()
			yield(Page{}, newError(KindExtractionFailed, errors.New("job already consumed")))
			return
		}
		j.consumed = true
		j.status = StatusExtracting
		j.mu.Unlock()

		doc, err := j.open()
		if err != nil {
			yield(Page{}, j.fail(err))
			return
		}

		n := doc.NumPages()
		j.mu.Lock()
		j.pageCount = n
		j.mu.Unlock()

		var parts []string
		for i := 1; i <= n; i++ {
			if err := ctx.Err(); err != nil {
				yield(Page{}, j.fail(newError(KindExtractionFailed, err)))
				return
			}

			tokens, err := doc.PageTokens(i)
			if err != nil {
				yield(Page{}, j.fail(newError(KindExtractionFailed, err)))
				return
			}
			page := Page{Number: i, Text: strings.Join(tokens, " ")}
			page.Text = strings.Join(strings.Fields(page.Text), " ")
			if page.Text != "" {
				parts = append(parts, page.Text)
			}

			j.mu.Lock()
			j.processed = i
			j.mu.Unlock()

			if !yield(page, nil) {
				j.fail(newError(KindExtractionFailed, errors.New("iteration stopped early")))
				return
			}
		}

		text := strings.TrimSpace(excessNewlines.ReplaceAllString(strings.Join(parts, PageBreak), "\n\n"))
		if text == "" {
			yield(Page{}, j.fail(newError(KindNoExtractableText, fmt.Errorf("%d pages without text", n))))
			return
		}

		j.mu.Lock()
		j.text = text
		j.status = StatusDone
		j.mu.Unlock()
		j.pipeline.logger.Debug("extraction complete", "pages", n, "chars", len(text))
	}
}

// open classifies every way a document can fail to open.
func (j *Job) open() (doc Document, err error) {
	if j.pipeline.decoder == nil {
		return nil, newError(KindLibraryUnavailable, errors.New("no decoder configured"))
	}
	if len(j.data) == 0 {
		return nil, newError(KindInvalidDocument, errors.New("empty document"))
	}

	// A parser panic on these bytes means the document is malformed.
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, newError(KindInvalidDocument, fmt.Errorf("decoder panicked: %v", p))
		}
	}()

	doc, err = j.pipeline.decoder.Open(j.data)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, ErrEncrypted):
		return nil, newError(KindPasswordProtected, err)
	case errors.Is(err, ErrMalformed):
		return nil, newError(KindInvalidDocument, err)
	default:
		return nil, newError(KindExtractionFailed, err)
	}
}

func (j *Job) fail(err error) error {
	kind := KindOf(err)
	j.mu.Lock()
	j.status = StatusFailed
	j.kind = kind
	j.text = ""
	j.mu.Unlock()
	j.pipeline.logger.Warn("extraction failed", "kind", kind, "error", err)
	return err
}
