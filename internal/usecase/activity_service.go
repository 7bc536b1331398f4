package usecase

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-crm-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-crm-engine/internal/model"
	"gitlab.com/timkado/api/daisi-crm-engine/pkg/logger"
)

const summaryMaxRunes = 140

// QueryActivities returns the merged message and event timeline. The
// opportunity is preferred when given or derivable from the message, then the
// contact, then the raw contact reference.
func (s *EngineService) QueryActivities(ctx context.Context, q model.ActivityQuery) (*model.ActivityTimeline, error) {
	if q.MessageID == "" && q.ContactID == "" && q.OpportunityID == "" {
		return nil, fmt.Errorf("%w: one of mensaje_id, contacto_id or oportunidad_id is required", apperrors.ErrValidation)
	}

	var reference string
	if q.MessageID != "" {
		message, err := s.messageRepo.FindByID(ctx, q.MessageID)
		if err != nil {
			return nil, handleRepositoryError(ctx, err, "load message for activities")
		}
		if q.OpportunityID == "" {
			q.OpportunityID = model.Deref(message.OpportunityID)
		}
		if q.ContactID == "" {
			q.ContactID = model.Deref(message.ContactID)
		}
		reference = model.Deref(message.ContactReference)
	}

	timeline := &model.ActivityTimeline{Items: []model.ActivityItem{}}
	var (
		messages []model.Message
		events   []model.Event
	)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	switch {
	case q.OpportunityID != "":
		timeline.Criterion = model.CriterionOpportunity
		timeline.OpportunityID = q.OpportunityID
		timeline.ContactID = q.ContactID
		p.Go(func(ctx context.Context) error {
			var err error
			messages, err = s.messageRepo.List(ctx, model.MessageFilter{OpportunityID: q.OpportunityID})
			return err
		})
		p.Go(func(ctx context.Context) error {
			var err error
			events, err = s.eventRepo.ListByOpportunity(ctx, q.OpportunityID)
			return err
		})
	case q.ContactID != "":
		timeline.Criterion = model.CriterionContact
		timeline.ContactID = q.ContactID
		p.Go(func(ctx context.Context) error {
			var err error
			messages, err = s.messageRepo.List(ctx, model.MessageFilter{ContactID: q.ContactID})
			return err
		})
		p.Go(func(ctx context.Context) error {
			var err error
			events, err = s.eventRepo.ListByContact(ctx, q.ContactID)
			return err
		})
	case reference != "":
		timeline.Criterion = model.CriterionContactReference
		timeline.Reference = reference
		p.Go(func(ctx context.Context) error {
			var err error
			messages, err = s.messageRepo.List(ctx, model.MessageFilter{ContactReference: reference})
			return err
		})
	default:
		return nil, fmt.Errorf("%w: message %s has no opportunity, contact or reference", apperrors.ErrValidation, q.MessageID)
	}

	if err := p.Wait(); err != nil {
		return nil, handleRepositoryError(ctx, err, "load activities", zap.String("criterion", timeline.Criterion))
	}

	for _, m := range messages {
		timeline.Items = append(timeline.Items, messageActivity(m))
	}
	for _, e := range events {
		timeline.Items = append(timeline.Items, eventActivity(e))
	}
	sortActivities(timeline.Items)

	logger.FromContext(ctx).Debug("Built activity timeline",
		zap.String("criterion", timeline.Criterion),
		zap.Int("messages", len(messages)),
		zap.Int("events", len(events)),
	)
	return timeline, nil
}

func messageActivity(m model.Message) model.ActivityItem {
	return model.ActivityItem{
		Kind:          model.ActivityKindMessage,
		ID:            m.ID,
		Time:          m.MessageTime,
		Summary:       summarize(model.Deref(m.Body)),
		State:         m.State,
		Direction:     m.Direction,
		ChannelCode:   m.ChannelCode,
		OpportunityID: model.Deref(m.OpportunityID),
		ContactID:     model.Deref(m.ContactID),
	}
}

// eventActivity places undated events at their creation time.
func eventActivity(e model.Event) model.ActivityItem {
	at := e.CreatedAt
	if e.EventTime != nil {
		at = *e.EventTime
	}
	return model.ActivityItem{
		Kind:          model.ActivityKindEvent,
		ID:            e.ID,
		Time:          at,
		Summary:       summarize(e.Title),
		State:         e.EventState,
		KindID:        e.KindID,
		OpportunityID: e.OpportunityID,
		ContactID:     model.Deref(e.ContactID),
	}
}

func sortActivities(items []model.ActivityItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Time.Equal(items[j].Time) {
			return items[i].Time.Before(items[j].Time)
		}
		return items[i].ID < items[j].ID
	})
}

func summarize(s string) string {
	if utf8.RuneCountInString(s) <= summaryMaxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:summaryMaxRunes-1]) + "…"
}
