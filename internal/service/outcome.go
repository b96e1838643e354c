package service

import (
	"github.com/phlaster/biokeeper-backend/internal/domain"
	"github.com/phlaster/biokeeper-backend/internal/metrics"
)

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return metrics.OutcomeNotFound
	case domain.KindConflict:
		return metrics.OutcomeConflict
	case domain.KindForbidden:
		return metrics.OutcomeForbidden
	case domain.KindInvalidInput:
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeError
	}
}

// isExpected reports whether err is a domain outcome rather than an infrastructure failure
func isExpected(err error) bool {
	return domain.KindOf(err) != domain.KindInternal
}
