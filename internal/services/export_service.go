package services

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/osvaldoandrade/captionq/internal/repository"
	"github.com/osvaldoandrade/captionq/pkg/domain"
)

const CSVHeader = "file name,alt text"

type ExportService interface {
	// ExportCSV writes the session's results as CSV to w.
	ExportCSV(ctx context.Context, sessionID string, w io.Writer) error
}

type exportService struct {
	repo repository.ResultRepository
}

func NewExportService(repo repository.ResultRepository) ExportService {
	return &exportService{repo: repo}
}

func (s *exportService) ExportCSV(ctx context.Context, sessionID string, w io.Writer) error {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return err
	}
	results, err := s.repo.ListResults(ctx, sessionID)
	if err != nil {
		return err
	}
	return WriteCSV(w, results)
}

// WriteCSV writes the header and one `<fileName>,"<caption>"` row per
// result. Rows are newline separated with no trailing newline. The caption
// is always quoted; the file name only when it needs to be.
func WriteCSV(w io.Writer, results []domain.EnrichedResult) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(CSVHeader)
	for _, r := range results {
		_ = bw.WriteByte('\n')
		_, _ = bw.WriteString(csvField(r.FileName, false))
		_ = bw.WriteByte(',')
		_, _ = bw.WriteString(csvField(r.Caption(), true))
	}
	return bw.Flush()
}

func csvField(s string, always bool) string {
	if !always && !strings.ContainsAny(s, ",\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
