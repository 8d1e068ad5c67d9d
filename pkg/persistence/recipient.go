package persistence

import "github.com/dukex/dunning/pkg/models"

// Recipient picks the address an action is delivered to: the bound contact when its type
// fits the channel, else the preferred contact matching the channel, else the first matching one.
func Recipient(record *models.DebtRecord, action models.ScheduledAction) string {
	want := action.Channel.ContactType()

	if action.ContactID != nil {
		if c, ok := record.Contact(*action.ContactID); ok && c.Type == want {
			return c.Value
		}
	}

	c, _ := record.ContactFor(want)

	return c.Value
}
