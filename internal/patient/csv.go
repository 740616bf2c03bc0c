package patient

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one CSV row keyed by header name. Columns with a blank header
// are dropped.
type Record map[string]string

// StreamRecords reads a headed CSV and sends each row on the returned
// channel. Both channels are closed when reading completes; at most one
// error is sent.
func StreamRecords(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "csv: read header")
			return
		}
		for i, h := range header {
			header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			row, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			rec := make(Record, len(header))
			for i, h := range header {
				if h == "" || i >= len(row) {
					continue
				}
				rec[h] = strings.TrimSpace(row[i])
			}

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

// ReadRecords drains StreamRecords into a slice.
func ReadRecords(ctx context.Context, r io.Reader) ([]Record, error) {
	recCh, errCh := StreamRecords(ctx, r)
	var out []Record
	for rec := range recCh {
		out = append(out, rec)
	}
	if err := <-errCh; err != nil {
		return out, err
	}
	return out, nil
}
