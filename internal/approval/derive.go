package approval

import (
	"sort"
	"time"
)

// Level0Tier is the dynamically resolved tier as seen by derivation.
type Level0Tier struct {
	Status    Level0Status
	Approvers []Level0Approver
}

// DeriveLevel0Status recomputes the tier status from its approver slots.
// not_required is sticky: it is decided once at submission.
func DeriveLevel0Status(tier Level0Tier) Level0Status {
	if tier.Status == Level0NotRequired || tier.Status == "" {
		return Level0NotRequired
	}
	if len(tier.Approvers) == 0 {
		return tier.Status
	}
	all := true
	for _, a := range tier.Approvers {
		switch a.Status {
		case EntryRejected:
			return Level0Rejected
		case EntryApproved:
		default:
			all = false
		}
	}
	if all {
		return Level0Approved
	}
	return Level0Pending
}

// DeriveApprovalStatus is the only definition of a document's approval status.
//
//   - rejected when level 0 or any configured level rejected
//   - approved when every configured level approved (or level 0 approved with none configured)
//   - pending while nothing at or before the current tier has been acted on,
//     or the current level was reopened by an edit
//   - in_progress otherwise
func DeriveApprovalStatus(tier Level0Tier, levels []LevelEntry) ApprovalStatus {
	l0 := DeriveLevel0Status(tier)
	if l0 == Level0Rejected {
		return ApprovalRejected
	}
	for _, e := range levels {
		if e.Status == EntryRejected {
			return ApprovalRejected
		}
	}
	if l0 == Level0Pending {
		for _, a := range tier.Approvers {
			if a.Status == EntryApproved {
				return ApprovalInProgress
			}
		}
		return ApprovalPending
	}
	if len(levels) == 0 {
		if l0 == Level0Approved {
			return ApprovalApproved
		}
		return ApprovalPending
	}
	var current *LevelEntry
	progressed := l0 == Level0Approved
	for i := range levels {
		if levels[i].Status == EntryApproved {
			progressed = true
			continue
		}
		if current == nil {
			current = &levels[i]
		}
	}
	if current == nil {
		return ApprovalApproved
	}
	if current.ReopenedAt != nil {
		return ApprovalPending
	}
	if progressed {
		return ApprovalInProgress
	}
	return ApprovalPending
}

// deriveCurrentLevel returns the first tier still awaiting action.
func deriveCurrentLevel(l0 Level0Status, levels []LevelEntry) *Level {
	switch l0 {
	case Level0Rejected:
		return nil
	case Level0Pending:
		return levelPtr(Level0)
	}
	for _, e := range levels {
		switch e.Status {
		case EntryRejected:
			return nil
		case EntryApproved:
			continue
		default:
			return levelPtr(e.Level)
		}
	}
	return nil
}

// Normalize recomputes every derived field of d in place.
// Transitions call it once, right before returning their Change.
func Normalize(d *Document, at time.Time) {
	sort.SliceStable(d.ApprovalLevels, func(i, j int) bool {
		return d.ApprovalLevels[i].Level < d.ApprovalLevels[j].Level
	})
	if d.Level0Status == "" {
		d.Level0Status = Level0NotRequired
	}

	tier := Level0Tier{Status: d.Level0Status, Approvers: d.Level0Approvers}
	d.Level0Status = DeriveLevel0Status(tier)
	d.ApprovalStatus = DeriveApprovalStatus(tier, d.ApprovalLevels)

	switch d.Status {
	case StatusSubmitted, StatusRejected, StatusCompleted:
		switch d.ApprovalStatus {
		case ApprovalApproved:
			d.Status = StatusCompleted
			if d.CompletedAt == nil {
				t := at
				d.CompletedAt = &t
			}
		case ApprovalRejected:
			d.Status = StatusRejected
			d.CompletedAt = nil
		default:
			d.Status = StatusSubmitted
			d.CompletedAt = nil
		}
	}

	if d.Status == StatusSubmitted {
		d.CurrentApprovalLevel = deriveCurrentLevel(d.Level0Status, d.ApprovalLevels)
	} else {
		d.CurrentApprovalLevel = nil
	}
	d.UpdatedAt = at
}
