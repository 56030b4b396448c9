package alert

import (
	"github.com/br00tm/infrawatch/internal/models"
)

// Mean is the arithmetic mean of the sample values. ok is false when there
// are no samples.
func Mean(samples []Sample) (mean float64, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s.Value
	}
	return sum / float64(len(samples)), true
}

// Evaluate reports whether the mean of samples satisfies op against
// threshold. No samples, or an unknown operator, never satisfies.
func Evaluate(samples []Sample, op models.Operator, threshold float64) bool {
	mean, ok := Mean(samples)
	if !ok {
		return false
	}
	return compare(op, mean, threshold)
}

func compare(operator models.Operator, current, threshold float64) bool {
	switch operator {
	case models.OperatorGT:
		return current > threshold
	case models.OperatorLT:
		return current < threshold
	case models.OperatorGTE:
		return current >= threshold
	case models.OperatorLTE:
		return current <= threshold
	case models.OperatorEQ:
		return current == threshold
	case models.OperatorNE:
		return current != threshold
	default:
		return false
	}
}
