package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/ledongthuc/pdf"

	"paperchat/internal/models"
	"paperchat/internal/util"
)

// Extract returns the text layer of every page in page order. Pages without
// text are kept so the page count stays accurate; a document with no text on
// any page fails with ErrNoExtractableText.
func Extract(r io.ReaderAt, size int64) (pages []models.Page, err error) {
	const op = "extract"
	defer func() {
		// the parser panics on some malformed inputs
		if rec := recover(); rec != nil {
			pages = nil
			err = util.E(util.KindExtraction, op, fmt.Errorf("pdf parser: %v", rec))
		}
	}()

	head := make([]byte, 5)
	if _, err := r.ReadAt(head, 0); err != nil || !bytes.Equal(head, []byte("%PDF-")) {
		return nil, util.E(util.KindExtraction, op, util.ErrNotPDF)
	}
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, util.E(util.KindExtraction, op, fmt.Errorf("open pdf: %w", err))
	}

	total := reader.NumPage()
	pages = make([]models.Page, 0, total)
	found := false
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, models.Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, util.E(util.KindExtraction, op, fmt.Errorf("page %d: %w", i, err))
		}
		text = util.SanitizeText(text)
		if text != "" {
			found = true
		}
		pages = append(pages, models.Page{Number: i, Text: text})
	}
	if !found {
		return nil, util.E(util.KindExtraction, op, util.ErrNoExtractableText)
	}
	return pages, nil
}

func ExtractFile(path string) ([]models.Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, util.E(util.KindExtraction, "extract", fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, util.E(util.KindExtraction, "extract", fmt.Errorf("stat %s: %w", path, err))
	}
	return Extract(f, st.Size())
}
