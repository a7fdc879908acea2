package negotiation

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"skillbarter/apperr"
	"skillbarter/exchange"
)

const (
	maxDescriptionLen = 4000
	maxDeliverables   = 20
	maxTitleLen       = 200
	maxHours          = 1000
)

var (
	ErrUnknownField   = apperr.New(apperr.KindValidation, "negotiation: unknown term field")
	ErrFieldForbidden = apperr.New(apperr.KindForbidden, "negotiation: role may not edit this field")
)

// Command is a single term edit. The set of commands is closed; each one
// carries its payload and its permission rule.
type Command interface {
	Field() string
	permits(role exchange.Role) bool
	apply(t *Terms, role exchange.Role) error
}

func ownRole(exchange.Role) bool { return true }
func initiatorOnly(r exchange.Role) bool { return r == exchange.RoleInitiator }
func invalid(format string, args ...any) error {
	return apperr.Errorf(apperr.KindValidation, "negotiation: "+format, args...)
}

// EditDescription replaces the caller's own description.
type EditDescription struct{ Text string }

func (EditDescription) Field() string { return "description" }
func (EditDescription) permits(r exchange.Role) bool { return ownRole(r) }
func (c EditDescription) apply(t *Terms, role exchange.Role) error {
	text := strings.TrimSpace(c.Text)
	if len(text) > maxDescriptionLen {
		return invalid("description exceeds %d characters", maxDescriptionLen)
	}
	t.For(role).Description = text
	return nil
}

// EditDeliverables replaces the caller's own deliverable list.
type EditDeliverables struct{ Titles []string }

func (EditDeliverables) Field() string { return "deliverables" }
func (EditDeliverables) permits(r exchange.Role) bool { return ownRole(r) }
func (c EditDeliverables) apply(t *Terms, role exchange.Role) error {
	if len(c.Titles) > maxDeliverables {
		return invalid("at most %d deliverables", maxDeliverables)
	}
	list := make([]Deliverable, 0, len(c.Titles))
	for i, title := range c.Titles {
		title = strings.TrimSpace(title)
		if title == "" {
			return invalid("deliverable %d has an empty title", i)
		}
		if len(title) > maxTitleLen {
			return invalid("deliverable %d title exceeds %d characters", i, maxTitleLen)
		}
		list = append(list, Deliverable{Title: title, State: DeliverableAuthored})
	}
	t.For(role).Deliverables = list
	return nil
}

// EditHours sets the caller's own effort estimate.
type EditHours struct{ Hours float64 }

func (EditHours) Field() string { return "hours" }
func (EditHours) permits(r exchange.Role) bool { return ownRole(r) }
func (c EditHours) apply(t *Terms, role exchange.Role) error {
	if math.IsNaN(c.Hours) || c.Hours < 0 || c.Hours > maxHours {
		return invalid("hours must be between 0 and %d", maxHours)
	}
	t.For(role).Hours = c.Hours
	return nil
}

// SelectSkills picks the skill each side offers. Initiator only.
type SelectSkills struct {
	InitiatorSkillID *string `json:"initiator"`
	RecipientSkillID *string `json:"recipient"`
}

func (SelectSkills) Field() string { return "skills" }
func (SelectSkills) permits(r exchange.Role) bool { return initiatorOnly(r) }
func (c SelectSkills) apply(t *Terms, _ exchange.Role) error {
	if c.InitiatorSkillID == nil && c.RecipientSkillID == nil {
		return invalid("skills requires at least one skill id")
	}
	if c.InitiatorSkillID != nil {
		t.Initiator.SkillID = c.InitiatorSkillID
	}
	if c.RecipientSkillID != nil {
		t.Recipient.SkillID = c.RecipientSkillID
	}
	return nil
}

// EditAmount sets the shared monetary top-up. Initiator only.
type EditAmount struct{ Amount float64 }

func (EditAmount) Field() string { return "amount" }
func (EditAmount) permits(r exchange.Role) bool { return initiatorOnly(r) }
func (c EditAmount) apply(t *Terms, _ exchange.Role) error {
	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) || c.Amount < 0 {
		return invalid("amount must be a non-negative number")
	}
	t.Amount = math.Round(c.Amount*100) / 100
	return nil
}

// EditCurrency sets the ISO 4217 currency code. Initiator only.
type EditCurrency struct{ Currency string }

func (EditCurrency) Field() string { return "currency" }
func (EditCurrency) permits(r exchange.Role) bool { return initiatorOnly(r) }
func (c EditCurrency) apply(t *Terms, _ exchange.Role) error {
	code := strings.ToUpper(strings.TrimSpace(c.Currency))
	if code != "" && (len(code) != 3 || strings.Trim(code, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "") {
		return invalid("currency must be a 3-letter code")
	}
	t.Currency = code
	return nil
}

// EditPaymentTimeline sets when the amount is paid. Initiator only.
type EditPaymentTimeline struct{ Timeline string }

func (EditPaymentTimeline) Field() string { return "paymentTimeline" }
func (EditPaymentTimeline) permits(r exchange.Role) bool { return initiatorOnly(r) }
func (c EditPaymentTimeline) apply(t *Terms, _ exchange.Role) error {
	v := strings.TrimSpace(c.Timeline)
	if len(v) > maxTitleLen {
		return invalid("paymentTimeline exceeds %d characters", maxTitleLen)
	}
	t.PaymentTimeline = v
	return nil
}

// EditDeadline sets or clears the shared deadline. Either role.
type EditDeadline struct{ Deadline *time.Time }

func (EditDeadline) Field() string { return "deadline" }
func (EditDeadline) permits(exchange.Role) bool { return true }
func (c EditDeadline) apply(t *Terms, _ exchange.Role) error {
	if c.Deadline != nil {
		d := c.Deadline.UTC()
		t.Deadline = &d
		return nil
	}
	t.Deadline = nil
	return nil
}

// EditMethod sets how the exchange is carried out. Either role.
type EditMethod struct{ Method string }

var methods = map[string]bool{"online": true, "in_person": true, "hybrid": true}

func (EditMethod) Field() string { return "method" }
func (EditMethod) permits(exchange.Role) bool { return true }
func (c EditMethod) apply(t *Terms, _ exchange.Role) error {
	m := strings.TrimSpace(c.Method)
	if m != "" && !methods[m] {
		return invalid("method must be one of online, in_person, hybrid")
	}
	t.Method = m
	return nil
}

// DecodeCommand maps a {fieldName, fieldValue} pair onto its command.
func DecodeCommand(field string, value json.RawMessage) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch field {
	case "description":
		var v string
		err = json.Unmarshal(value, &v)
		cmd = EditDescription{Text: v}
	case "deliverables":
		var v []string
		err = json.Unmarshal(value, &v)
		cmd = EditDeliverables{Titles: v}
	case "hours":
		var v float64
		err = json.Unmarshal(value, &v)
		cmd = EditHours{Hours: v}
	case "skills":
		var v SelectSkills
		err = json.Unmarshal(value, &v)
		cmd = v
	case "amount":
		var v float64
		err = json.Unmarshal(value, &v)
		cmd = EditAmount{Amount: v}
	case "currency":
		var v string
		err = json.Unmarshal(value, &v)
		cmd = EditCurrency{Currency: v}
	case "paymentTimeline":
		var v string
		err = json.Unmarshal(value, &v)
		cmd = EditPaymentTimeline{Timeline: v}
	case "deadline":
		var v *time.Time
		err = json.Unmarshal(value, &v)
		cmd = EditDeadline{Deadline: v}
	case "method":
		var v string
		err = json.Unmarshal(value, &v)
		cmd = EditMethod{Method: v}
	default:
		return nil, ErrUnknownField
	}
	if len(value) == 0 {
		return nil, invalid("fieldValue is required for %s", field)
	}
	if err != nil {
		return nil, invalid("bad value for %s: %v", field, err)
	}
	return cmd, nil
}
