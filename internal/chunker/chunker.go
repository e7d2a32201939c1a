package chunker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"paperchat/internal/models"
)

const pageSeparator = "\n\n"

var ErrInvalidOptions = errors.New("chunker: invalid options")

type Options struct {
	Size    int
	Overlap int
}

func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidOptions, o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidOptions, o.Overlap, o.Size)
	}
	return nil
}

// PageSpan is the rune range a page occupies in Layout.Text.
type PageSpan struct {
	Number int
	Start  int
	End    int
}

// Layout is a document's concatenated text plus the page offset map.
type Layout struct {
	Text  string
	Pages []PageSpan
}

// Join concatenates non-empty pages separated by a blank line.
func Join(pages []models.Page) Layout {
	var b strings.Builder
	spans := make([]PageSpan, 0, len(pages))
	offset := 0
	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		if offset > 0 {
			b.WriteString(pageSeparator)
			offset += len([]rune(pageSeparator))
		}
		n := len([]rune(p.Text))
		spans = append(spans, PageSpan{Number: p.Number, Start: offset, End: offset + n})
		b.WriteString(p.Text)
		offset += n
	}
	return Layout{Text: b.String(), Pages: spans}
}

// PageAt returns the page holding rune offset off. Offsets inside a
// separator belong to the page before it.
func (l Layout) PageAt(off int) int {
	if len(l.Pages) == 0 {
		return 0
	}
	i := sort.Search(len(l.Pages), func(i int) bool { return l.Pages[i].Start > off })
	if i == 0 {
		return l.Pages[0].Number
	}
	return l.Pages[i-1].Number
}

// Split cuts layout.Text into chunks of at most opts.Size runes. Each chunk
// after the first starts exactly opts.Overlap runes before the previous
// chunk's end, so the chunks cover the text with no gaps.
func Split(documentID string, layout Layout, opts Options) ([]models.Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	runes := []rune(layout.Text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	chunks := make([]models.Chunk, 0, n/(opts.Size-opts.Overlap)+1)
	start := 0
	for {
		end := start + opts.Size
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start, end, opts)
		}
		chunks = append(chunks, models.Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Page:       layout.PageAt(start),
			Start:      start,
			End:        end,
			Text:       string(runes[start:end]),
		})
		if end == n {
			return chunks, nil
		}
		start = end - opts.Overlap
	}
}

// breakPoint looks for a natural boundary in the second half of the window.
// The lower bound stays past start+overlap so every step makes progress.
func breakPoint(runes []rune, start, limit int, opts Options) int {
	lo := start + opts.Size/2
	if floor := start + opts.Overlap + 1; lo < floor {
		lo = floor
	}
	if lo > limit {
		return limit
	}
	for _, match := range []func([]rune, int) bool{isParagraphEnd, isSentenceEnd, isSpaceEnd} {
		for p := limit; p >= lo; p-- {
			if match(runes, p) {
				return p
			}
		}
	}
	return limit
}

func isParagraphEnd(r []rune, p int) bool {
	return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n'
}

func isSentenceEnd(r []rune, p int) bool {
	if p < 1 || p >= len(r) {
		return false
	}
	switch r[p-1] {
	case '.', '!', '?':
		return unicode.IsSpace(r[p])
	}
	return false
}

func isSpaceEnd(r []rune, p int) bool {
	return p >= 1 && unicode.IsSpace(r[p-1])
}
