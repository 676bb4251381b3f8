package database

import (
	"context"
	"fmt"

	"wacrm/utils"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"gorm.io/gorm"
)

// PushStream appends one event to the analytics stream. A zero ts means now.
func (s *ChatStore) PushStream(ctx context.Context, eventType EventType, chatID string, ts int64) error {
	return s.insertStream(s.db.WithContext(ctx), eventType, utils.SanitizeID(chatID), ts)
}

func (s *ChatStore) insertStream(db *gorm.DB, eventType EventType, id string, ts int64) error {
	event := &AnalyticsStream{
		ChatID:   id,
		Type:     eventType,
		Ts:       utils.TsOrNow(ts, s.now()),
		MonthKey: utils.MonthKey(ts, s.now(), s.loc),
	}
	if err := db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to push %s event for %s: %w", eventType, id, err)
	}
	return nil
}

// PushMonthlyUnique counts an event at most once per chat, type and month.
// A repeat within the same month is reported as MonthlyAlreadyExists, not as an error.
func (s *ChatStore) PushMonthlyUnique(ctx context.Context, eventType EventType, chatID string, ts int64) (MonthlyResult, error) {
	id := utils.SanitizeID(chatID)
	event := &AnalyticsMonthly{
		ChatID:   id,
		Type:     eventType,
		Ts:       utils.TsOrNow(ts, s.now()),
		MonthKey: utils.MonthKey(ts, s.now(), s.loc),
	}

	err := s.db.WithContext(ctx).Create(event).Error
	if isDuplicateKey(err) {
		s.logger.Debug("monthly event already counted",
			zap.String("chat_id", id),
			zap.String("type", string(eventType)),
			zap.String("month_key", event.MonthKey),
		)
		return MonthlyAlreadyExists, nil
	}
	if err != nil {
		return MonthlyInserted, fmt.Errorf("failed to push monthly %s event for %s: %w", eventType, id, err)
	}
	return MonthlyInserted, nil
}

// RecordLeadNewIfFirstCreate pushes a lead_new event when an inbound individual
// message arrives for a chat that does not exist yet. The existence check and the
// chat creation that follows are separate statements, so concurrent first messages
// can count twice or not at all; IngestIncoming does both in one transaction.
func (s *ChatStore) RecordLeadNewIfFirstCreate(ctx context.Context, probe LeadProbe) (bool, error) {
	if probe.IsGroup || probe.FromMe {
		return false, nil
	}

	id := utils.SanitizeID(probe.ChatID)
	existing, err := findChat(s.db.WithContext(ctx), id)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if err = s.PushStream(ctx, EventLeadNew, id, probe.Ts); err != nil {
		return false, err
	}
	return true, nil
}

// SetStatus moves a chat to a new lifecycle state and records client_new or
// decline events on entering those states. Unknown chats yield nil, nil.
func (s *ChatStore) SetStatus(ctx context.Context, chatID string, status Status) (*Chat, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.transition(ctx, chatID, status, true)
}

// SetFlagLead maps the boolean lead flag onto lead/client. It never declines.
func (s *ChatStore) SetFlagLead(ctx context.Context, chatID string, isLead bool) (*Chat, error) {
	status := StatusClient
	if isLead {
		status = StatusLead
	}
	return s.transition(ctx, chatID, status, false)
}

func (s *ChatStore) transition(ctx context.Context, chatID string, status Status, allowDecline bool) (*Chat, error) {
	id := utils.SanitizeID(chatID)
	db := s.db.WithContext(ctx)

	chat, err := findChat(db, id)
	if err != nil || chat == nil {
		return nil, err
	}

	prev := chat.Status
	if err = db.Model(&Chat{}).Where("id = ?", id).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("failed to set status of %s: %w", id, err)
	}
	chat.Status = status

	var event EventType
	switch {
	case status == StatusClient && prev != StatusClient:
		event = EventClientNew
	case allowDecline && status == StatusDeclined && prev != StatusDeclined:
		event = EventDecline
	default:
		return chat, nil
	}

	nowTs := s.nowTs()
	if err = s.PushStream(ctx, event, id, nowTs); err != nil {
		return nil, err
	}
	if _, err = s.PushMonthlyUnique(ctx, event, id, nowTs); err != nil {
		return nil, err
	}

	s.logger.Info("chat status changed",
		zap.String("chat_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(status)),
		zap.String("event", string(event)),
	)
	return chat, nil
}

// GetAnalytics counts new leads (stream log) and new clients and declines
// (monthly log) with ts inside [FromSec, ToSec].
func (s *ChatStore) GetAnalytics(ctx context.Context, r AnalyticsRange) (*AnalyticsSummary, error) {
	toSec := r.ToSec
	if toSec == 0 {
		toSec = s.nowTs()
	}
	db := s.db.WithContext(ctx)

	var summary AnalyticsSummary
	counts := []struct {
		model interface{}
		event EventType
		dest  *int64
	}{
		{&AnalyticsStream{}, EventLeadNew, &summary.LeadsNew},
		{&AnalyticsMonthly{}, EventClientNew, &summary.ClientsNew},
		{&AnalyticsMonthly{}, EventDecline, &summary.Declines},
	}
	for _, c := range counts {
		err := db.Model(c.model).
			Where("type = ? AND ts >= ? AND ts <= ?", c.event, r.FromSec, toSec).
			Count(c.dest).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count %s events: %w", c.event, err)
		}
	}
	return &summary, nil
}

type monthTypeCount struct {
	MonthKey string
	Type     EventType
	Total    int64
}

// MonthlyBreakdown groups analytics per month key within [fromKey, toKey].
// Empty keys leave that side of the range open.
func (s *ChatStore) MonthlyBreakdown(ctx context.Context, fromKey, toKey string) ([]MonthlyCount, error) {
	db := s.db.WithContext(ctx)

	var rows []monthTypeCount
	for _, model := range []interface{}{&AnalyticsStream{}, &AnalyticsMonthly{}} {
		query := db.Model(model).Select("month_key, type, COUNT(*) AS total")
		if _, isStream := model.(*AnalyticsStream); isStream {
			query = query.Where("type = ?", EventLeadNew)
		} else {
			query = query.Where("type IN ?", []EventType{EventClientNew, EventDecline})
		}
		if fromKey != "" {
			query = query.Where("month_key >= ?", fromKey)
		}
		if toKey != "" {
			query = query.Where("month_key <= ?", toKey)
		}

		var part []monthTypeCount
		if err := query.Group("month_key, type").Scan(&part).Error; err != nil {
			return nil, fmt.Errorf("failed to group analytics by month: %w", err)
		}
		rows = append(rows, part...)
	}

	byMonth := map[string]*MonthlyCount{}
	var keys []string
	for _, r := range rows {
		mc, found := byMonth[r.MonthKey]
		if !found {
			mc = &MonthlyCount{MonthKey: r.MonthKey}
			byMonth[r.MonthKey] = mc
			keys = append(keys, r.MonthKey)
		}
		switch r.Type {
		case EventLeadNew:
			mc.LeadsNew = r.Total
		case EventClientNew:
			mc.ClientsNew = r.Total
		case EventDecline:
			mc.Declines = r.Total
		}
	}

	slices.Sort(keys)
	result := make([]MonthlyCount, 0, len(keys))
	for _, k := range keys {
		result = append(result, *byMonth[k])
	}
	return result, nil
}
