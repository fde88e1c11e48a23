package report

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/Diacious/yolo-guns-knife-detection/src/commons"
	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

type Format int

const (
	PDF Format = iota
	Excel
)

// ParseFormat maps the report_type query value onto a Format. Everything
// but "excel" (in any case) yields a PDF.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, "excel") {
		return Excel
	}
	return PDF
}

func (f Format) String() string {
	if f == Excel {
		return "excel"
	}
	return "pdf"
}

func (f Format) Extension() string {
	if f == Excel {
		return ".xlsx"
	}
	return ".pdf"
}

// DownloadName is the file name offered to clients.
func (f Format) DownloadName() string {
	return "report" + f.Extension()
}

var columns = []string{
	"ID",
	"Timestamp",
	"File",
	"Processed File",
	"Processing Time (sec)",
	"Memory Used (MB)",
	"Label Stats",
}

// Render writes the report for entries to w.
func Render(w io.Writer, entries []datastructures.HistoryEntry, format Format) error {
	switch format {
	case Excel:
		return renderExcel(w, entries)
	default:
		return renderPDF(w, entries)
	}
}

// Generator writes report documents into a directory.
type Generator struct {
	outputDir string
}

func NewGenerator(outputDir string) *Generator {
	return &Generator{outputDir: outputDir}
}

// WriteFile renders entries into a new file in the output directory and
// returns its path.
func (g *Generator) WriteFile(entries []datastructures.HistoryEntry, format Format) (path string, err error) {
	name, err := commons.NewArtifactName("report", format.Extension())
	if err != nil {
		return "", err
	}
	path = commons.ArtifactPath(g.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "couldn't create report")
	}
	defer func() {
		err = multierr.Append(err, f.Close())
		if err != nil {
			os.Remove(path)
			path = ""
		}
	}()

	if err := Render(f, entries, format); err != nil {
		return path, errors.Wrapf(err, "couldn't render %s report", format)
	}
	log.Debug("[Report] Wrote ", format, " report with ", len(entries), " entries to ", path)
	return path, nil
}

// FormatLabelStats renders label stats as a single line with labels in
// sorted order.
func FormatLabelStats(labelStats datastructures.LabelStats) string {
	if len(labelStats) == 0 {
		return "-"
	}
	labels := lo.Keys(labelStats)
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		stat := labelStats[label]
		parts = append(parts, fmt.Sprintf("%s: count=%d, avg_confidence=%.2f, total_confidence=%.2f",
			label, stat.Count, stat.AvgConfidence, stat.TotalConfidence))
	}
	return strings.Join(parts, "; ")
}
