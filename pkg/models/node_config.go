package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidNodeConfig is returned when a node configuration fails validation.
var ErrInvalidNodeConfig = errors.New("invalid node configuration")

// NodeConfig is the typed configuration of one node kind.
type NodeConfig interface {
	Validate() error
}

// Range is an inclusive numeric interval. A nil bound is unconstrained.
type Range struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// Contains reports whether v lies inside the range.
func (r *Range) Contains(v float64) bool {
	if r == nil {
		return true
	}

	if r.Min != nil && v < *r.Min {
		return false
	}

	if r.Max != nil && v > *r.Max {
		return false
	}

	return true
}

// SortField names a filter sort key.
type SortField string

const (
	SortByAmount      SortField = "amount"
	SortByDueDate     SortField = "due_date"
	SortByDaysOverdue SortField = "days_overdue"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortSpec orders the survivors of a filter node.
type SortSpec struct {
	Field SortField `json:"field"`
	Order SortOrder `json:"order,omitempty"`
}

// FilterConfig narrows a population by debt attributes.
type FilterConfig struct {
	StateIn          []string      `json:"state_in,omitempty"`
	AmountRange      *Range        `json:"amount_range,omitempty"`
	DaysOverdueRange *Range        `json:"days_overdue_range,omitempty"`
	ContactTypeIn    []ContactType `json:"contact_type_in,omitempty"`
	HadPriorActionIn []string      `json:"had_prior_action_in,omitempty"`
	Sort             *SortSpec     `json:"sort,omitempty"`
	Limit            *int          `json:"limit,omitempty"`
}

// HasPredicates reports whether any attribute predicate is configured.
func (c *FilterConfig) HasPredicates() bool {
	return len(c.StateIn) > 0 ||
		c.AmountRange != nil ||
		c.DaysOverdueRange != nil ||
		len(c.ContactTypeIn) > 0 ||
		len(c.HadPriorActionIn) > 0
}

func (c *FilterConfig) Validate() error {
	if c.Limit != nil && *c.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidNodeConfig)
	}

	for name, r := range map[string]*Range{"amount_range": c.AmountRange, "days_overdue_range": c.DaysOverdueRange} {
		if r != nil && r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("%w: %s min is greater than max", ErrInvalidNodeConfig, name)
		}
	}

	if c.Sort != nil {
		switch c.Sort.Field {
		case SortByAmount, SortByDueDate, SortByDaysOverdue:
		default:
			return fmt.Errorf("%w: unknown sort field %q", ErrInvalidNodeConfig, c.Sort.Field)
		}

		switch c.Sort.Order {
		case SortAsc, SortDesc, "":
		default:
			return fmt.Errorf("%w: unknown sort order %q", ErrInvalidNodeConfig, c.Sort.Order)
		}
	}

	return nil
}

// ConditionField names a debt attribute a condition can test.
type ConditionField string

const (
	FieldState           ConditionField = "state"
	FieldAmount          ConditionField = "amount"
	FieldDaysOverdue     ConditionField = "days_overdue"
	FieldHasEmailHistory ConditionField = "has_email_history"
	FieldHasCallHistory  ConditionField = "has_call_history"
)

// FieldType groups condition fields by the operators they accept.
type FieldType int

const (
	FieldTypeUnknown FieldType = iota
	FieldTypeText
	FieldTypeNumeric
	FieldTypeExistence
)

// Type returns the operator family of the field.
func (f ConditionField) Type() FieldType {
	switch f {
	case FieldState:
		return FieldTypeText
	case FieldAmount, FieldDaysOverdue:
		return FieldTypeNumeric
	case FieldHasEmailHistory, FieldHasCallHistory:
		return FieldTypeExistence
	default:
		return FieldTypeUnknown
	}
}

// Operator is a comparison applied by a condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpExists      Operator = "exists"
	OpNotExists   Operator = "not_exists"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpBetween     Operator = "between"
)

var operatorsByType = map[FieldType][]Operator{
	FieldTypeText:      {OpEquals, OpContains, OpExists, OpNotExists},
	FieldTypeNumeric:   {OpEquals, OpGreaterThan, OpLessThan, OpBetween, OpExists},
	FieldTypeExistence: {OpExists, OpNotExists},
}

// Logic combines the predicates of a condition node.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is one predicate of a condition node.
type Condition struct {
	Field    ConditionField `json:"field"`
	Operator Operator       `json:"operator"`
	Value    any            `json:"value,omitempty"`
	Value2   any            `json:"value2,omitempty"`
}

// ConditionConfig splits a population into yes and no partitions.
type ConditionConfig struct {
	Conditions []Condition `json:"conditions"`
	Logic      Logic       `json:"logic,omitempty"`
}

// Combinator returns the normalized logic, defaulting to AND.
func (c *ConditionConfig) Combinator() Logic {
	if strings.EqualFold(string(c.Logic), string(LogicOr)) {
		return LogicOr
	}

	return LogicAnd
}

func (c *ConditionConfig) Validate() error {
	if c.Logic != "" && !strings.EqualFold(string(c.Logic), string(LogicAnd)) &&
		!strings.EqualFold(string(c.Logic), string(LogicOr)) {
		return fmt.Errorf("%w: unknown logic %q", ErrInvalidNodeConfig, c.Logic)
	}

	for i, cond := range c.Conditions {
		fieldType := cond.Field.Type()
		if fieldType == FieldTypeUnknown {
			return fmt.Errorf("%w: condition %d: unknown field %q", ErrInvalidNodeConfig, i, cond.Field)
		}

		allowed := false

		for _, op := range operatorsByType[fieldType] {
			if op == cond.Operator {
				allowed = true

				break
			}
		}

		if !allowed {
			return fmt.Errorf("%w: condition %d: operator %q not supported for field %q",
				ErrInvalidNodeConfig, i, cond.Operator, cond.Field)
		}

		if cond.Operator == OpBetween && cond.Value2 == nil {
			return fmt.Errorf("%w: condition %d: between requires value2", ErrInvalidNodeConfig, i)
		}
	}

	return nil
}

// DurationUnit is the unit of a wait duration.
type DurationUnit string

const (
	UnitMinutes DurationUnit = "minutes"
	UnitHours   DurationUnit = "hours"
	UnitDays    DurationUnit = "days"
	UnitWeeks   DurationUnit = "weeks"
)

// DurationSpec is an amount of a calendar unit.
type DurationSpec struct {
	Unit   DurationUnit `json:"unit"`
	Amount int          `json:"amount"`
}

// WorkHours is a daily "HH:MM" window.
type WorkHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Bounds parses the window into offsets from midnight.
func (w WorkHours) Bounds() (time.Duration, time.Duration, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return 0, 0, err
	}

	end, err := parseClock(w.End)
	if err != nil {
		return 0, 0, err
	}

	if end <= start {
		return 0, 0, fmt.Errorf("%w: work hours end %q must be after start %q", ErrInvalidNodeConfig, w.End, w.Start)
	}

	return start, end, nil
}

// ScheduleRules are the business-hour constraints applied after a wait.
type ScheduleRules struct {
	BusinessDaysOnly bool       `json:"business_days_only,omitempty"`
	ExcludeWeekends  bool       `json:"exclude_weekends,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	WorkHours        *WorkHours `json:"work_hours,omitempty"`
}

// SkipWeekends reports whether results must land on Monday to Friday.
func (r ScheduleRules) SkipWeekends() bool {
	return r.BusinessDaysOnly || r.ExcludeWeekends
}

// WaitConfig advances the virtual clock.
type WaitConfig struct {
	Duration DurationSpec `json:"duration"`
	ScheduleRules
}

func (c *WaitConfig) Validate() error {
	switch c.Duration.Unit {
	case UnitMinutes, UnitHours, UnitDays, UnitWeeks:
	default:
		return fmt.Errorf("%w: unknown duration unit %q", ErrInvalidNodeConfig, c.Duration.Unit)
	}

	if c.Duration.Amount < 0 {
		return fmt.Errorf("%w: duration amount must not be negative", ErrInvalidNodeConfig)
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidNodeConfig, c.Timezone)
		}
	}

	if c.WorkHours != nil {
		if _, _, err := c.WorkHours.Bounds(); err != nil {
			return err
		}
	}

	return nil
}

// CommunicationConfig schedules outreach on the node's channel.
type CommunicationConfig struct {
	TemplateID string         `json:"template_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	Options    map[string]any `json:"options,omitempty"`

	kind NodeKind
}

// NewCommunicationConfig binds a communication config to its node kind.
func NewCommunicationConfig(kind NodeKind) *CommunicationConfig {
	return &CommunicationConfig{kind: kind}
}

// Kind returns the communication kind the config was decoded for.
func (c *CommunicationConfig) Kind() NodeKind {
	return c.kind
}

func (c *CommunicationConfig) Validate() error {
	if c.kind == NodeKindCall {
		if c.AgentID == "" {
			return fmt.Errorf("%w: call node requires agent_id", ErrInvalidNodeConfig)
		}

		return nil
	}

	if c.TemplateID == "" {
		return fmt.Errorf("%w: %s node requires template_id", ErrInvalidNodeConfig, c.kind)
	}

	return nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid clock time %q", ErrInvalidNodeConfig, s)
	}

	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
