package checker

import (
	"kaisou/internal/domain"
	"kaisou/internal/probe"
)

// Classify maps a probe outcome to the entity's new link status. The probed
// field decides between OK and PDF_ONLY; entities with nothing to probe stay
// UNKNOWN; any probe failure is BROKEN.
func Classify(target domain.ProbeTarget, result probe.Result) domain.LinkStatus {
	if target == domain.TargetNone {
		return domain.LinkStatusUnknown
	}
	if !result.OK {
		return domain.LinkStatusBroken
	}
	if target == domain.TargetPDF {
		return domain.LinkStatusPDFOnly
	}
	return domain.LinkStatusOK
}

// auditResult is the classified outcome string written to the audit ledger:
// "OK" on success, the probe error kind otherwise.
func auditResult(result probe.Result) string {
	if result.OK {
		return "OK"
	}
	if result.ErrorKind != "" {
		return string(result.ErrorKind)
	}
	return string(domain.ProbeErrUnknown)
}
