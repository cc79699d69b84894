package expense

import (
	"strings"
	"time"

	"github.com/teranga-app/teranga/internal/org"
	"github.com/teranga-app/teranga/internal/perm"
	"github.com/teranga-app/teranga/internal/shared"
)

// The workflow functions are pure: they take an explicit snapshot of the
// request, the association and the acting member, and return the next state.
// Callers apply the result under a per-request lock or version check.

// authorityTier names which approval authority a validator acts under.
type authorityTier int

const (
	tierNone authorityTier = iota
	tierSection
	tierCentral
)

// decisionTier resolves the validator's authority over the request.
//
// Single-section associations accept central roles only. For a section-scoped
// request of a multi-section association, section officers of that section
// may approve, and central roles always retain override authority. Amounts
// above the association's approval ceiling escalate to central regardless of
// section.
func decisionTier(req Request, validator org.Member, assoc org.Association) authorityTier {
	central := validator.HasRole(perm.RoleTresorier) || validator.HasRole(perm.RolePresident)
	if central {
		return tierCentral
	}
	if !assoc.IsMultiSection || req.SectionID == nil {
		return tierNone
	}
	if assoc.ApprovalCeiling > 0 && req.AmountRequested > assoc.ApprovalCeiling {
		// Ceiling breach: section authority is not sufficient.
		return tierNone
	}
	if validator.SectionID == nil || *validator.SectionID != *req.SectionID {
		return tierNone
	}
	if validator.HasRole(perm.RoleTresorierSection) || validator.HasRole(perm.RoleResponsableSection) {
		return tierSection
	}
	return tierNone
}

// SubmitForReview moves a pending request into review. Loan requests must
// carry fully populated terms before they can leave pending.
func SubmitForReview(req Request, now time.Time) (Request, error) {
	if req.Status != StatusPending {
		return Request{}, shared.Invariantf("request %s is not pending", req.ID)
	}
	if req.IsLoan && (req.LoanTerms == nil || !req.LoanTerms.Complete()) {
		return Request{}, shared.Validationf("loan request requires complete loan terms before review")
	}
	req.Status = StatusUnderReview
	req.UpdatedAt = now
	return req, nil
}

// ApplyDecision records a validator decision and computes the resulting
// status. It enforces validator authority, per-cycle idempotency and the
// non-empty rejection comment precondition. The escalation override lets
// central roles record a decision on an already approved (not yet paid)
// section request.
func ApplyDecision(req Request, validator org.Member, assoc org.Association, decision Decision, comment string, now time.Time) (Request, error) {
	tier := decisionTier(req, validator, assoc)
	if tier == tierNone {
		return Request{}, shared.Authorizationf("member %s lacks approval authority over request %s", validator.ID, req.ID)
	}

	switch req.Status {
	case StatusUnderReview:
	case StatusApproved:
		if tier != tierCentral {
			return Request{}, shared.Authorizationf("only central roles may revisit an approved request")
		}
	default:
		return Request{}, shared.Invariantf("request %s is not open for decisions (status %s)", req.ID, req.Status)
	}

	if req.DecisionInCycle(validator.ID) {
		return Request{}, shared.Invariantf("validator %s already decided in the current review cycle", validator.ID)
	}

	comment = strings.TrimSpace(comment)
	if decision == DecisionRejected && comment == "" {
		return Request{}, shared.Validationf("rejection requires a non-empty comment")
	}

	entry := ValidationEntry{
		ValidatorID: validator.ID,
		Role:        decisionRole(validator, tier),
		Decision:    decision,
		Comment:     comment,
		Cycle:       req.ReviewCycle,
		Timestamp:   now,
	}
	req.History = append(req.History, entry)
	req.UpdatedAt = now

	switch decision {
	case DecisionApproved:
		req.Status = StatusApproved
	case DecisionRejected:
		req.Status = StatusRejected
	case DecisionInfoRequested:
		if req.Status == StatusApproved {
			return Request{}, shared.Invariantf("cannot request information on an approved request")
		}
		req.Status = StatusAdditionalInfoNeeded
	default:
		return Request{}, shared.Validationf("unknown decision %q", decision)
	}
	return req, nil
}

func decisionRole(validator org.Member, tier authorityTier) string {
	if tier == tierCentral {
		if validator.HasRole(perm.RoleTresorier) {
			return perm.RoleTresorier
		}
		return perm.RolePresident
	}
	if validator.HasRole(perm.RoleTresorierSection) {
		return perm.RoleTresorierSection
	}
	return perm.RoleResponsableSection
}

// ResumeReview re-opens a request after the requester supplied the missing
// information. A fresh review cycle starts: earlier validators may decide
// again.
func ResumeReview(req Request, now time.Time) (Request, error) {
	if req.Status != StatusAdditionalInfoNeeded {
		return Request{}, shared.Invariantf("request %s is not awaiting additional information", req.ID)
	}
	req.Status = StatusUnderReview
	req.ReviewCycle++
	req.UpdatedAt = now
	return req, nil
}

// MarkPaid finalises an approved request. Paid is terminal.
func MarkPaid(req Request, now time.Time) (Request, error) {
	if req.Status != StatusApproved {
		return Request{}, shared.Invariantf("request %s must be approved before payment (status %s)", req.ID, req.Status)
	}
	req.Status = StatusPaid
	req.UpdatedAt = now
	return req, nil
}
