// Package sheets reads taxonomy category columns from Google Sheets.
package sheets

import (
	"context"
	"fmt"
	"strings"

	"taxonomer/internal/models"

	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

type Reader struct {
	svc *sheetsapi.Service
}

// NewReader creates a Sheets client. With no options it uses Application Default Credentials.
func NewReader(ctx context.Context, opts ...option.ClientOption) (*Reader, error) {
	svc, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Reader{svc: svc}, nil
}

// ReadColumn returns the raw cell values of one column, skipping the first row when src.Header is set.
func (r *Reader) ReadColumn(ctx context.Context, src models.SpreadsheetSource) ([]string, error) {
	if src.ColumnIndex < 1 {
		return nil, fmt.Errorf("%w: worksheet column index must be >= 1, got %d", models.ErrInvalidInput, src.ColumnIndex)
	}
	rng := ColumnRange(src.WorksheetName, src.ColumnIndex)
	resp, err := r.svc.Spreadsheets.Values.Get(src.SpreadsheetID, rng).
		MajorDimension("COLUMNS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("read %s from spreadsheet %s: %w", rng, src.SpreadsheetID, err)
	}

	var values []string
	if len(resp.Values) > 0 {
		for _, cell := range resp.Values[0] {
			values = append(values, fmt.Sprint(cell))
		}
	}
	if src.Header && len(values) > 0 {
		values = values[1:]
	}
	log.Debugf("Read %d cells from %s in spreadsheet %s", len(values), rng, src.SpreadsheetID)
	return values, nil
}

// ColumnRange builds an A1 range covering a whole column, e.g. 'Sheet 1'!B:B.
func ColumnRange(worksheet string, column int) string {
	letters := columnLetters(column)
	return fmt.Sprintf("'%s'!%s:%s", strings.ReplaceAll(worksheet, "'", "''"), letters, letters)
}

func columnLetters(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
