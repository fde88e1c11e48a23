package report

import (
	"fmt"
	"io"

	"codeberg.org/go-pdf/fpdf"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
	"github.com/Diacious/yolo-guns-knife-detection/src/stats"
)

const (
	lineHeight = 10
	pageWidth  = 190
)

func renderPDF(w io.Writer, entries []datastructures.HistoryEntry) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Detection report", true)
	pdf.AddPage()
	// core fonts are cp1252, file names may be anything
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(pageWidth, lineHeight, "Detection report")
	pdf.Ln(lineHeight + 2)

	summary := stats.Summarize(entries)
	pdf.SetFont("Arial", "", 12)
	line := func(s string) {
		pdf.MultiCell(pageWidth, lineHeight, tr(s), "", "L", false)
	}
	line(fmt.Sprintf("Requests: %d (%d images, %d videos)", summary.TotalRequests, summary.ImageRequests, summary.VideoRequests))
	line(fmt.Sprintf("Average Processing Time: %.2f sec", summary.AvgProcessingTime))
	line(fmt.Sprintf("Average Memory Used: %.2f MB", summary.AvgMemoryUsed))
	line(fmt.Sprintf("Detections: %s", FormatLabelStats(summary.Labels)))
	pdf.Ln(lineHeight)

	for _, e := range entries {
		line(fmt.Sprintf("ID: %s", e.Id))
		line(fmt.Sprintf("Timestamp: %s", e.Timestamp))
		line(fmt.Sprintf("File: %s", e.FileName))
		line(fmt.Sprintf("Processed File: %s", e.ProcessedFile))
		line(fmt.Sprintf("Processing Time: %.2f sec", e.ProcessingTime))
		line(fmt.Sprintf("Memory Used: %.2f MB", e.MemoryUsed))
		line(fmt.Sprintf("Label Stats: %s", FormatLabelStats(e.LabelStats)))
		if e.Truncated {
			line("Video decoding stopped early")
		}
		pdf.Ln(lineHeight)
	}

	return pdf.Output(w)
}
