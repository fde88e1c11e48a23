package stats

import (
	"math"

	"github.com/samber/lo"

	"github.com/Diacious/yolo-guns-knife-detection/src/datastructures"
)

// ComputeLabelStats groups detections by their resolved label. Only labels
// that occur in detections are present in the result.
func ComputeLabelStats(detections []datastructures.Detection, names datastructures.ClassNames) datastructures.LabelStats {
	labelStats := make(datastructures.LabelStats)
	bounds := make(map[string]confidenceRange)
	for _, d := range detections {
		label := names.Label(d.Class)
		stat := labelStats[label]
		stat.Count++
		stat.TotalConfidence += d.Confidence
		labelStats[label] = stat
		bounds[label] = bounds[label].add(stat.Count == 1, d.Confidence)
	}
	return finalize(labelStats, bounds)
}

// confidenceRange is the smallest and largest confidence seen for a label.
type confidenceRange struct {
	min, max float64
}

func (r confidenceRange) add(first bool, confidence float64) confidenceRange {
	if first {
		return confidenceRange{min: confidence, max: confidence}
	}
	return confidenceRange{min: math.Min(r.min, confidence), max: math.Max(r.max, confidence)}
}

// finalize sets the averages. The rounding of total/count can land just
// outside the observed range (three times 0.1), so averages are clamped
// into it when bounds are known.
func finalize(labelStats datastructures.LabelStats, bounds map[string]confidenceRange) datastructures.LabelStats {
	for label, stat := range labelStats {
		if stat.Count > 0 {
			stat.AvgConfidence = stat.TotalConfidence / float64(stat.Count)
			if r, ok := bounds[label]; ok {
				stat.AvgConfidence = math.Min(math.Max(stat.AvgConfidence, r.min), r.max)
			}
		} else {
			stat.AvgConfidence = 0
		}
		labelStats[label] = stat
	}
	return labelStats
}

// Summary aggregates the whole request history.
type Summary struct {
	TotalRequests     int                       `json:"total_requests"`
	ImageRequests     int                       `json:"image_requests"`
	VideoRequests     int                       `json:"video_requests"`
	TruncatedVideos   int                       `json:"truncated_videos"`
	TotalDetections   int                       `json:"total_detections"`
	AvgProcessingTime float64                   `json:"avg_processing_time"`
	AvgMemoryUsed     float64                   `json:"avg_memory_used"`
	Labels            datastructures.LabelStats `json:"labels"`
}

func Summarize(entries []datastructures.HistoryEntry) Summary {
	summary := Summary{
		TotalRequests:   len(entries),
		VideoRequests:   lo.CountBy(entries, func(e datastructures.HistoryEntry) bool { return e.Result.IsVideo() }),
		TruncatedVideos: lo.CountBy(entries, func(e datastructures.HistoryEntry) bool { return e.Truncated }),
		Labels:          make(datastructures.LabelStats),
	}
	summary.ImageRequests = summary.TotalRequests - summary.VideoRequests
	if len(entries) == 0 {
		return summary
	}

	summary.AvgProcessingTime = lo.SumBy(entries, func(e datastructures.HistoryEntry) float64 { return e.ProcessingTime }) / float64(len(entries))
	summary.AvgMemoryUsed = lo.SumBy(entries, func(e datastructures.HistoryEntry) float64 { return e.MemoryUsed }) / float64(len(entries))

	for _, e := range entries {
		for label, stat := range e.LabelStats {
			total := summary.Labels[label]
			total.Count += stat.Count
			total.TotalConfidence += stat.TotalConfidence
			summary.Labels[label] = total
			summary.TotalDetections += stat.Count
		}
	}
	finalize(summary.Labels, nil)
	return summary
}
