package melody

import "time"

// SegmentFrames converts the gap tolerance and minimum segment duration to
// frame counts for the given frame duration
func SegmentFrames(frameMs float64) (gapAllow, minSegment int) {
	gapAllow = Round(durationMs(GapTolerance) / frameMs)
	if gapAllow < 0 {
		gapAllow = 0
	}
	minSegment = Round(durationMs(MinSegmentDuration) / frameMs)
	if minSegment < 1 {
		minSegment = 1
	}
	return gapAllow, minSegment
}

// ContiguousHighNoteSegments counts sustained high-note segments in isHigh.
//
// High frame indices are scanned in order; an index joins the current
// segment when the number of frames skipped since the previous high frame is
// at most the gap tolerance. A segment counts when its span (last - first + 1)
// reaches the minimum segment duration.
func ContiguousHighNoteSegments(isHigh []bool, frameMs float64) int {
	if frameMs <= 0 {
		return 0
	}

	gapAllow, minSegment := SegmentFrames(frameMs)

	count := 0
	start, end := -1, -1
	for i, high := range isHigh {
		if !high {
			continue
		}
		if start < 0 {
			start, end = i, i
			continue
		}
		if i-end-1 <= gapAllow {
			end = i
			continue
		}
		if end-start+1 >= minSegment {
			count++
		}
		start, end = i, i
	}

	if start >= 0 && end-start+1 >= minSegment {
		count++
	}

	return count
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
