package datastructures

import (
	"encoding/json"
	"strconv"
)

type Detection struct {
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Class      int        `json:"class"`
}

type FrameDetections struct {
	Frame      int         `json:"frame"`
	Detections []Detection `json:"detections"`
}

// Result is either an image result ({"detections": [...]}) or a video
// result ({"video_detections": [...]}). A non-nil VideoDetections makes it
// a video result.
type Result struct {
	Detections      []Detection
	VideoDetections []FrameDetections
}

func (r Result) IsVideo() bool {
	return r.VideoDetections != nil
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.IsVideo() {
		return json.Marshal(struct {
			VideoDetections []FrameDetections `json:"video_detections"`
		}{r.VideoDetections})
	}
	detections := r.Detections
	if detections == nil {
		detections = []Detection{}
	}
	return json.Marshal(struct {
		Detections []Detection `json:"detections"`
	}{detections})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var raw struct {
		Detections      []Detection       `json:"detections"`
		VideoDetections []FrameDetections `json:"video_detections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Detections = raw.Detections
	r.VideoDetections = raw.VideoDetections
	return nil
}

type LabelStat struct {
	Count           int     `json:"count"`
	TotalConfidence float64 `json:"total_confidence"`
	AvgConfidence   float64 `json:"avg_confidence"`
}

type LabelStats map[string]LabelStat

type HistoryEntry struct {
	Id             string     `json:"id"`
	Timestamp      string     `json:"timestamp"`
	FileName       string     `json:"file_name"`
	ProcessedFile  string     `json:"processed_file"`
	Result         Result     `json:"result"`
	ProcessingTime float64    `json:"processing_time"`
	MemoryUsed     float64    `json:"memory_used"`
	LabelStats     LabelStats `json:"label_stats"`
	Truncated      bool       `json:"truncated,omitempty"`
}

// ClassNames maps class indices produced by the model to human readable labels.
type ClassNames []string

// Label returns the name for class index i, or the index itself if the
// table has no entry for it.
func (c ClassNames) Label(i int) string {
	if i >= 0 && i < len(c) && c[i] != "" {
		return c[i]
	}
	return strconv.Itoa(i)
}
