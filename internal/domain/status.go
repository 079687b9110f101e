package domain

// LinkStatus is the verification state of a municipality's permit link.
type LinkStatus string

const (
	// LinkStatusUnknown: no URL on record, nothing to verify.
	LinkStatusUnknown LinkStatus = "UNKNOWN"
	// LinkStatusNeedsReview: flagged by an operator, pending manual check.
	LinkStatusNeedsReview LinkStatus = "NEEDS_REVIEW"
	// LinkStatusOK: guide page URL verified live.
	LinkStatusOK LinkStatus = "OK"
	// LinkStatusPDFOnly: no guide page; the direct PDF verified live.
	LinkStatusPDFOnly LinkStatus = "PDF_ONLY"
	// LinkStatusBroken: last probe failed.
	LinkStatusBroken LinkStatus = "BROKEN"
)

// IsValid checks the status is one of the supported enum values.
func (s LinkStatus) IsValid() bool {
	switch s {
	case LinkStatusUnknown, LinkStatusNeedsReview, LinkStatusOK, LinkStatusPDFOnly, LinkStatusBroken:
		return true
	}
	return false
}

// String returns the string representation.
func (s LinkStatus) String() string {
	return string(s)
}

// LinkType records which kind of destination the published link points at.
type LinkType string

const (
	LinkTypeGuide LinkType = "GUIDE"
	LinkTypePDF   LinkType = "PDF"
	LinkTypeNone  LinkType = "NONE"
)

// IsValid checks the link type is one of the supported enum values.
func (t LinkType) IsValid() bool {
	return t == LinkTypeGuide || t == LinkTypePDF || t == LinkTypeNone
}

// RunStatus is the lifecycle state of a link-check run. A run is created
// RUNNING and transitions exactly once to a terminal state.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusSucceeded RunStatus = "SUCCEEDED"
	RunStatusFailed    RunStatus = "FAILED"
)

// IsTerminal reports whether the status is an end state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// IsValid checks the run status is one of the supported enum values.
func (s RunStatus) IsValid() bool {
	return s == RunStatusRunning || s.IsTerminal()
}

// ProbeErrorKind classifies why a probe failed.
type ProbeErrorKind string

const (
	ProbeErrTimeout ProbeErrorKind = "TIMEOUT"
	ProbeErrDNS     ProbeErrorKind = "DNS_ERROR"
	ProbeErrClient  ProbeErrorKind = "CLIENT_ERROR"
	ProbeErrServer  ProbeErrorKind = "SERVER_ERROR"
	ProbeErrUnknown ProbeErrorKind = "UNKNOWN_ERROR"
)

// Transient reports whether the error class is worth one local retry.
// 4xx and malformed URLs are permanent; retrying them only annoys servers.
func (k ProbeErrorKind) Transient() bool {
	switch k {
	case ProbeErrTimeout, ProbeErrDNS, ProbeErrServer:
		return true
	}
	return false
}

// CandidateStatus tracks a staged candidate through reconciliation.
type CandidateStatus string

const (
	CandidatePending   CandidateStatus = "PENDING"
	CandidateApplied   CandidateStatus = "APPLIED"
	CandidateRejected  CandidateStatus = "REJECTED"
	CandidateUnmatched CandidateStatus = "UNMATCHED"
)

// IsValid checks the candidate status is one of the supported enum values.
func (s CandidateStatus) IsValid() bool {
	switch s {
	case CandidatePending, CandidateApplied, CandidateRejected, CandidateUnmatched:
		return true
	}
	return false
}
