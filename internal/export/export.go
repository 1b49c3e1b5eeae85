package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"epic-issues/internal/store"
)

// Lister is the part of the store an Exporter reads from.
type Lister interface {
	List(ctx context.Context, p store.Predicate, skip, take int) ([]store.Issue, error)
}

type Exporter struct{ st Lister }

func NewExporter(st Lister) *Exporter { return &Exporter{st: st} }

// ContentType maps an export format to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "csv":
		return "text/csv"
	case "pdf":
		return "application/pdf"
	default:
		return "application/json"
	}
}

// Export renders every issue matching p.
func (e *Exporter) Export(ctx context.Context, format string, p store.Predicate) ([]byte, error) {
	all, err := e.st.List(ctx, p, 0, 0)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(format) {
	case "json", "":
		return json.MarshalIndent(all, "", "  ")
	case "csv":
		var b bytes.Buffer
		w := csv.NewWriter(&b)
		_ = w.Write([]string{"tag", "title", "status", "priority", "description", "created_at", "updated_at"})
		for _, it := range all {
			_ = w.Write([]string{
				it.Tag().Display(), it.Title, it.Status, it.Priority, it.Description,
				it.CreatedAt.Format(time.RFC3339), it.UpdatedAt.Format(time.RFC3339),
			})
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	case "pdf":
		pdf := gofpdf.New("P", "mm", "A4", "")
		tr := pdf.UnicodeTranslatorFromDescriptor("")
		pdf.AddPage()
		pdf.SetFont("Arial", "B", 14)
		pdf.Cell(40, 10, "Issues")
		pdf.Ln(12)
		pdf.SetFont("Arial", "", 10)
		for _, it := range all {
			line := fmt.Sprintf("%s [%s/%s] %s (%s)", it.Tag().Display(), it.Status, it.Priority, it.Title, it.CreatedAt.Format("2006-01-02"))
			pdf.MultiCell(0, 6, tr(line), "0", "L", false)
		}
		var buf bytes.Buffer
		if err := pdf.Output(&buf); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown format %s", format)
	}
}
