package model

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/daisi-crm-engine/pkg/utils"
)

func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// fakePhone returns an E.164-looking Argentine mobile number.
func fakePhone() string {
	return "+54911" + gofakeit.Numerify("########")
}

// NewContact creates a Contact with fake data. Non-zero fields of the
// override replace the defaults.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:                 NewID(),
		FullName:           gofakeit.Name(),
		Telephones:         datatypes.JSONSlice[string]{fakePhone()},
		ResponsibleUserID:  gofakeit.UUID(),
		QualificationState: QualificationNew,
		Audit:              Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.FullName != "" {
			base.FullName = ovr.FullName
		}
		if ovr.Telephones != nil {
			base.Telephones = ovr.Telephones
		}
		base.Email = ovr.Email
		if ovr.ResponsibleUserID != "" {
			base.ResponsibleUserID = ovr.ResponsibleUserID
		}
		if ovr.QualificationState != "" {
			base.QualificationState = ovr.QualificationState
		}
		base.Need = ovr.Need
		base.InterestOperationTypeID = ovr.InterestOperationTypeID
	}
	return base
}

// NewChannel creates an active Channel with fake data.
func NewChannel(overrideDefaults ...*Channel) *Channel {
	base := &Channel{
		ID:                NewID(),
		ProviderChannelID: gofakeit.Numerify("1########"),
		PhoneNumber:       fakePhone(),
		Active:            true,
		Audit:             Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ProviderChannelID != "" {
			base.ProviderChannelID = ovr.ProviderChannelID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		base.Alias = ovr.Alias
		// Active is a bool; an override always wins.
		base.Active = ovr.Active
	}
	return base
}

// NewMessage creates an inbound WhatsApp Message in state new.
func NewMessage(overrideDefaults ...*Message) *Message {
	body := gofakeit.Sentence(8)
	ref := fakePhone()
	base := &Message{
		ID:               NewID(),
		Direction:        DirectionInbound,
		ChannelCode:      ChannelCodeWhatsApp,
		ContactReference: &ref,
		State:            MessageStateNew,
		ExternalOriginID: StringPtr("wamid." + gofakeit.LetterN(24)),
		Body:             &body,
		Metadata:         datatypes.JSONMap{},
		MessageTime:      utils.Now().Add(-time.Duration(gofakeit.Number(1, 60)) * time.Minute),
		Audit:            Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.ChannelCode != "" {
			base.ChannelCode = ovr.ChannelCode
		}
		if ovr.ContactID != nil {
			base.ContactID = ovr.ContactID
		}
		if ovr.ContactReference != nil {
			base.ContactReference = ovr.ContactReference
		}
		base.OpportunityID = ovr.OpportunityID
		base.ChannelID = ovr.ChannelID
		if ovr.State != "" {
			base.State = ovr.State
		}
		base.ProviderState = ovr.ProviderState
		base.ProviderStateAt = ovr.ProviderStateAt
		if ovr.ExternalOriginID != nil {
			base.ExternalOriginID = ovr.ExternalOriginID
		}
		if ovr.Body != nil {
			base.Body = ovr.Body
		}
		if ovr.Metadata != nil {
			base.Metadata = ovr.Metadata
		}
		if !ovr.MessageTime.IsZero() {
			base.MessageTime = ovr.MessageTime
		}
	}
	return base
}

// NewOpportunity creates an active prospect Opportunity for a fake contact.
func NewOpportunity(overrideDefaults ...*Opportunity) *Opportunity {
	title := "New opportunity from " + ChannelCodeWhatsApp
	base := &Opportunity{
		ID:                NewID(),
		ContactID:         NewID(),
		ResponsibleUserID: gofakeit.UUID(),
		Title:             &title,
		State:             OpportunityStateProspect,
		StateDate:         utils.Now(),
		Active:            true,
		Audit:             Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.ContactID != "" {
			base.ContactID = ovr.ContactID
		}
		if ovr.ResponsibleUserID != "" {
			base.ResponsibleUserID = ovr.ResponsibleUserID
		}
		base.OperationTypeID = ovr.OperationTypeID
		if ovr.State != "" {
			base.State = ovr.State
			base.Active = !IsTerminalOpportunityState(ovr.State)
		}
		if !ovr.StateDate.IsZero() {
			base.StateDate = ovr.StateDate
		}
		if ovr.Version != 0 {
			base.Version = ovr.Version
		}
	}
	return base
}

// NewEvent creates a pending Event on a fake opportunity.
func NewEvent(overrideDefaults ...*Event) *Event {
	base := &Event{
		ID:             NewID(),
		OpportunityID:  NewID(),
		KindID:         int64(gofakeit.Number(1, 4)),
		Title:          gofakeit.Sentence(4),
		EventState:     EventStatePending,
		StateDate:      utils.Now(),
		AssigneeUserID: gofakeit.UUID(),
		Audit:          Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OpportunityID != "" {
			base.OpportunityID = ovr.OpportunityID
		}
		base.ContactID = ovr.ContactID
		if ovr.KindID != 0 {
			base.KindID = ovr.KindID
		}
		if ovr.Title != "" {
			base.Title = ovr.Title
		}
		base.EventTime = ovr.EventTime
		base.Result = ovr.Result
		if ovr.EventState != "" {
			base.EventState = ovr.EventState
		}
	}
	return base
}

// NewProperty creates a Property with fake data.
func NewProperty(overrideDefaults ...*Property) *Property {
	title := gofakeit.Street()
	base := &Property{
		ID:              NewID(),
		OperationTypeID: int64(gofakeit.Number(1, 2)),
		State:           PropertyStateAvailable,
		Title:           &title,
		Audit:           Audit{Version: 1},
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != "" {
			base.ID = ovr.ID
		}
		if ovr.OperationTypeID != 0 {
			base.OperationTypeID = ovr.OperationTypeID
		}
		if ovr.State != "" {
			base.State = ovr.State
		}
		base.ContactID = ovr.ContactID
	}
	return base
}

// NewTextEnvelope builds a single-message webhook envelope for tests and tooling.
func NewTextEnvelope(businessAccountID, phoneNumberID, from, name, wamid, body string, at time.Time) *WebhookEnvelope {
	msg := WAMessage{
		From:      from,
		ID:        wamid,
		Timestamp: utils.FormatUnix(at),
		Type:      "text",
		Text:      &WAText{Body: body},
	}
	contact := WAContact{WaID: from}
	contact.Profile.Name = name

	return &WebhookEnvelope{
		Object: "whatsapp_business_account",
		Entry: []WebhookEntry{{
			ID: businessAccountID,
			Changes: []WebhookChange{{
				Field: "messages",
				Value: ChangeValue{
					MessagingProduct: "whatsapp",
					Metadata:         ChangeMetadata{PhoneNumberID: phoneNumberID},
					Contacts:         []WAContact{contact},
					Messages:         []WAMessage{msg},
				},
			}},
		}},
	}
}

// NewStatusEnvelope builds a single-status webhook envelope.
func NewStatusEnvelope(businessAccountID, phoneNumberID, wamid, status string, at time.Time) *WebhookEnvelope {
	return &WebhookEnvelope{
		Object: "whatsapp_business_account",
		Entry: []WebhookEntry{{
			ID: businessAccountID,
			Changes: []WebhookChange{{
				Field: "messages",
				Value: ChangeValue{
					MessagingProduct: "whatsapp",
					Metadata:         ChangeMetadata{PhoneNumberID: phoneNumberID},
					Statuses: []WAStatus{{
						ID:        wamid,
						Status:    status,
						Timestamp: utils.FormatUnix(at),
					}},
				},
			}},
		}},
	}
}
