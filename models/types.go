package models

import "time"

type Detection struct {
	// BBox is x1, y1, x2, y2 in pixels of the preprocessed image.
	BBox       [4]int32
	Label      string
	Confidence float32
}

type ProcessingTimings struct {
	RequestID   string
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Save        time.Duration
	Total       time.Duration
}
