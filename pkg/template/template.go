// Package template resolves message variables for a work item and renders {{name}} placeholders.
package template

import (
	"regexp"
	"strconv"
	"time"

	"github.com/dukex/dunning/pkg/models"
)

// Variable names available to message templates.
const (
	VarDebtorName    = "debtor_name"
	VarAmount        = "amount"
	VarCurrency      = "currency"
	VarDebtReference = "debt_reference"
	VarDueDate       = "due_date"
	VarDaysOverdue   = "days_overdue"
	VarContactValue  = "contact_value"
)

var defaults = map[string]string{
	VarDebtorName: "Customer",
	VarAmount:     "0.00",
	VarCurrency:   "USD",
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// leftover matches any brace pair that survived substitution, e.g. "{{ }}" or "{{ bad-name }}".
var leftover = regexp.MustCompile(`\{\{[^{}]*\}\}`)

// Default returns the fallback value of a variable that cannot be resolved.
func Default(name string) string {
	return defaults[name]
}

// Resolve computes the variables of a work item from its debt record. Today is the
// virtual clock at resolution time.
func Resolve(record *models.DebtRecord, contactID *string, today time.Time) map[string]string {
	debt := record.Debt

	vars := map[string]string{
		VarDebtorName:    orDefault(VarDebtorName, debt.DebtorName),
		VarAmount:        strconv.FormatFloat(debt.Amount, 'f', 2, 64),
		VarCurrency:      orDefault(VarCurrency, debt.Currency),
		VarDebtReference: debt.Reference,
		VarDaysOverdue:   strconv.Itoa(debt.DaysOverdue(today)),
	}

	if !debt.DueDate.IsZero() {
		vars[VarDueDate] = debt.DueDate.UTC().Format(time.DateOnly)
	}

	if contactID != nil {
		if contact, ok := record.Contact(*contactID); ok {
			vars[VarContactValue] = contact.Value
		}
	}

	return vars
}

// Render substitutes placeholders with vars, falling back to per-variable defaults.
// Placeholders that still cannot be resolved are removed.
func Render(text string, vars map[string]string) string {
	out := placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok && v != "" {
			return v
		}

		return Default(name)
	})

	return leftover.ReplaceAllString(out, "")
}

func orDefault(name, value string) string {
	if value == "" {
		return Default(name)
	}

	return value
}
