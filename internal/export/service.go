package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/patchhistory/internal/domain"
	"github.com/rpattn/patchhistory/internal/history"
	"github.com/rpattn/patchhistory/internal/middleware"
)

// DefaultSheetName names the worksheet of an xlsx history export.
const DefaultSheetName = "History"

// Trackers resolves tracked collections.
type Trackers interface {
	Tracker(collection string) (*history.Tracker, error)
	ParseID(raw string) (any, error)
}

// Service reads patch histories and renders them for download.
type Service struct {
	trackers  Trackers
	sheetName string
}

type Option func(*Service)

func WithSheetName(name string) Option {
	return func(s *Service) {
		if strings.TrimSpace(name) != "" {
			s.sheetName = strings.TrimSpace(name)
		}
	}
}

func NewService(trackers Trackers, opts ...Option) *Service {
	service := &Service{trackers: trackers, sheetName: DefaultSheetName}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// ParseRef converts a textual document identity to the store's native form.
func (s *Service) ParseRef(raw string) (any, error) {
	return s.trackers.ParseID(strings.TrimSpace(raw))
}

// History returns a document's patches, oldest first. Lookups go through the
// request's patch loader when one is attached to ctx.
func (s *Service) History(ctx context.Context, collection string, ref any) ([]domain.Patch, error) {
	tracker, err := s.trackers.Tracker(collection)
	if err != nil {
		return nil, err
	}
	if loaders := middleware.LoadersFromContext(ctx); loaders != nil {
		if loader, ok := loaders.For(collection); ok {
			return loader.Load(ctx, ref)
		}
	}
	return tracker.Patches().ListByRef(ctx, ref)
}

// HistoryMany returns the patches of several documents, in ref order.
func (s *Service) HistoryMany(ctx context.Context, collection string, refs []any) ([][]domain.Patch, error) {
	tracker, err := s.trackers.Tracker(collection)
	if err != nil {
		return nil, err
	}
	if loaders := middleware.LoadersFromContext(ctx); loaders != nil {
		if loader, ok := loaders.For(collection); ok {
			return loader.LoadMany(ctx, refs)
		}
	}
	return tracker.Patches().ListByRefs(ctx, refs)
}

// State rebuilds a document's state after version patches (all when 0).
func (s *Service) State(ctx context.Context, collection string, ref any, version int) (map[string]any, error) {
	tracker, err := s.trackers.Tracker(collection)
	if err != nil {
		return nil, err
	}
	return tracker.Reconstruct(ctx, ref, version)
}

// WriteWorkbook writes a document's history as an xlsx workbook, one row per
// operation.
func (s *Service) WriteWorkbook(ctx context.Context, w io.Writer, collection string, ref any) error {
	patches, err := s.History(ctx, collection, ref)
	if err != nil {
		return err
	}
	t := historyTable(patches)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), s.sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	headers := make([]any, len(t.headers))
	for i, header := range t.headers {
		headers[i] = header
	}
	if err := f.SetSheetRow(s.sheetName, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	if err := f.SetRowStyle(s.sheetName, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style header row: %w", err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		copy(values, row)
		if err := f.SetSheetRow(s.sheetName, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// WriteCSV writes a document's history as CSV with the workbook's columns.
func (s *Service) WriteCSV(ctx context.Context, w io.Writer, collection string, ref any) error {
	patches, err := s.History(ctx, collection, ref)
	if err != nil {
		return err
	}
	t := historyTable(patches)

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.headers); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(t.headers))
	for _, row := range t.rows {
		for i, value := range row {
			record[i] = formatValue(value)
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// FileName builds a download file name for a document's history.
func FileName(collection string, ref any, ext string) string {
	base := sanitizeFileComponent(collection + " " + domain.IdentityKey(ref))
	return fmt.Sprintf("%s-history.%s", base, ext)
}

var baseColumns = []string{"version", "date", "op", "path", "value", "original_value"}

type table struct {
	headers []string
	rows    [][]any
}

// historyTable flattens patches into one row per operation. Included fields
// become trailing columns, sorted by name.
func historyTable(patches []domain.Patch) table {
	includeSet := map[string]struct{}{}
	for _, patch := range patches {
		for name := range patch.Included {
			includeSet[name] = struct{}{}
		}
	}
	includes := make([]string, 0, len(includeSet))
	for name := range includeSet {
		includes = append(includes, name)
	}
	sort.Strings(includes)

	t := table{headers: append(append([]string{}, baseColumns...), includes...)}
	for i, patch := range patches {
		for _, op := range patch.Ops {
			row := []any{
				i + 1,
				formatValue(patch.Date),
				op.Op,
				op.Path,
				formatValue(op.Value),
				formatValue(op.OriginalValue),
			}
			for _, name := range includes {
				row = append(row, formatValue(patch.Included[name]))
			}
			t.rows = append(t.rows, row)
		}
	}
	return t
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
