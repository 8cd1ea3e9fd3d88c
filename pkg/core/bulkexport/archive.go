package bulkexport

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// DefaultChunkSize bounds how many CSV rows are held in memory at once
// while streaming an export. Exports can run to millions of rows.
const DefaultChunkSize = 5000

// OpenArchiveCSV opens the first .csv member of a zip archive held in
// memory and returns a reader over its contents.
func OpenArchiveCSV(archive []byte) (io.ReadCloser, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open %s in archive: %w", f.Name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("archive contains no csv member")
}

// StreamCSV reads a CSV stream and hands rows to fn in chunks of at
// most chunkSize, so the file is never fully resident. The header row
// is passed to every invocation. The rows slice is reused between
// calls; fn must not retain it. fn returning an error stops the stream.
//
// Lines that do not parse as rows of the header's width are skipped;
// the returned count says how many, so callers can report the loss.
func StreamCSV(r io.Reader, chunkSize int, fn func(header []string, rows [][]string) error) (int, error) {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}

	cr := csv.NewReader(r)
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read csv header: %w", err)
	}

	skipped := 0
	chunk := make([][]string, 0, chunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := fn(header, chunk); err != nil {
			return err
		}
		chunk = chunk[:0]
		return nil
	}

	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn row mid-file; skip it rather than abort the window.
			skipped++
			continue
		}
		chunk = append(chunk, row)
		if len(chunk) >= chunkSize {
			if err := flush(); err != nil {
				return skipped, err
			}
		}
	}
	return skipped, flush()
}
