package persistence_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence"
)

func TestRecipient(t *testing.T) {
	t.Parallel()

	record := &models.DebtRecord{Contacts: []models.Contact{
		{ID: "a-phone", Type: models.ContactTypePhone, Value: "+5511999"},
		{ID: "b-mail", Type: models.ContactTypeEmail, Value: "b@example.com"},
		{ID: "c-mail", Type: models.ContactTypeEmail, Value: "c@example.com", Preferred: true},
	}}

	ptr := func(s string) *string { return &s }

	tests := []struct {
		name     string
		action   models.ScheduledAction
		expected string
	}{
		{"bound contact of the channel type", models.ScheduledAction{Channel: models.ChannelEmail, ContactID: ptr("b-mail")}, "b@example.com"},
		{"bound phone ignored for email", models.ScheduledAction{Channel: models.ChannelEmail, ContactID: ptr("a-phone")}, "c@example.com"},
		{"unbound prefers the preferred contact", models.ScheduledAction{Channel: models.ChannelEmail}, "c@example.com"},
		{"bound email ignored for sms", models.ScheduledAction{Channel: models.ChannelSMS, ContactID: ptr("c-mail")}, "+5511999"},
		{"no contact of the channel type", models.ScheduledAction{Channel: models.ChannelWhatsApp}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, persistence.Recipient(record, tt.action))
		})
	}
}
