package pose

// Quality is a coarse label for the per-corner reprojection error. It is a
// display and logging aid; the pipeline never rejects a pose because of it.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityFair      Quality = "fair"
	QualityPoor      Quality = "poor"
	QualityUnknown   Quality = "unknown"
)

// RMS reprojection thresholds, in pixels.
const (
	RMSThresholdExcellent = 0.5
	RMSThresholdGood      = 1.5
	RMSThresholdFair      = 3.0
)

// Grade labels an estimate by its RMS reprojection error.
func Grade(e Estimate) Quality {
	if e.Markers == 0 {
		return QualityUnknown
	}
	rms := e.RMS()
	switch {
	case rms < RMSThresholdExcellent:
		return QualityExcellent
	case rms < RMSThresholdGood:
		return QualityGood
	case rms < RMSThresholdFair:
		return QualityFair
	default:
		return QualityPoor
	}
}
