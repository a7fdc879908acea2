package dispute

import (
	"fmt"
	"regexp"
	"strconv"

	"skillbarter/apperr"
	"skillbarter/exchange"
)

// ErrEvidenceUnparseable is returned when evidence text carries no
// deliverable reference.
var ErrEvidenceUnparseable = apperr.New(apperr.KindValidation, "dispute: evidence has no deliverable reference")

// FormatEvidence renders the human-readable evidence stored with a dispute.
func FormatEvidence(ref DeliverableRef, raisedBy exchange.Role) string {
	return fmt.Sprintf("Deliverable #%d %q (index=%d, owner=%s, disputed_by=%s)",
		ref.Index+1, ref.Title, ref.Index, ref.Owner, raisedBy)
}

var (
	// the group FormatEvidence appends; titles may contain look-alikes
	evidenceRef   = regexp.MustCompile(`\(index=(\d+), owner=(initiator|recipient), disputed_by=\w+\)\s*$`)
	legacyRef     = regexp.MustCompile(`index=(\d+), owner=(initiator|recipient)`)
	evidenceTitle = regexp.MustCompile(`^Deliverable #\d+ ("(?:[^"\\]|\\.)*")`)
)

// ParseEvidence recovers a deliverable reference from evidence text. It is
// the fallback for records written without a typed reference.
func ParseEvidence(exchangeID, evidence string) (DeliverableRef, error) {
	m := evidenceRef.FindStringSubmatch(evidence)
	if m == nil {
		if all := legacyRef.FindAllStringSubmatch(evidence, -1); len(all) > 0 {
			m = all[len(all)-1]
		}
	}
	if m == nil {
		return DeliverableRef{}, ErrEvidenceUnparseable
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return DeliverableRef{}, ErrEvidenceUnparseable
	}
	ref := DeliverableRef{ExchangeID: exchangeID, Owner: exchange.Role(m[2]), Index: idx}
	if t := evidenceTitle.FindStringSubmatch(evidence); t != nil {
		if title, err := strconv.Unquote(t[1]); err == nil {
			ref.Title = title
		}
	}
	return ref, nil
}
