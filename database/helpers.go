package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wacrm/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultMessageLimit = 200
	PreviewLength       = 140
)

const chatListOrder = "pinned DESC, unread_count DESC, last_ts DESC, name ASC"

// ChatStore is the persistence facade over chats, messages and analytics events.
type ChatStore struct {
	db     *gorm.DB
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time
}

type Option func(*ChatStore)

// WithLocation sets the time zone month keys are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *ChatStore) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *ChatStore) {
		s.now = now
	}
}

func NewChatStore(db *gorm.DB, logger *zap.Logger, opts ...Option) *ChatStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ChatStore{
		db:     db,
		logger: logger.Named("ChatStore"),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying database handle.
func (s *ChatStore) Close() error {
	sqlDb, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

func (s *ChatStore) nowTs() int64 {
	return s.now().Unix()
}

// GetChat returns the chat with the given id, or nil when it does not exist.
func (s *ChatStore) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	return findChat(s.db.WithContext(ctx), utils.SanitizeID(chatID))
}

func findChat(db *gorm.DB, id string) (*Chat, error) {
	var chat Chat
	err := db.Where("id = ?", id).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", id, err)
	}
	return &chat, nil
}

// UpsertChatOnIncoming creates or refreshes the chat a message was observed in.
func (s *ChatStore) UpsertChatOnIncoming(ctx context.Context, in IncomingChat) (*Chat, error) {
	var chat *Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		chat, _, err = upsertIncoming(tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// upsertIncoming inserts the chat if it is missing and otherwise applies the update path.
// The returned flag is true when this call created the row.
func upsertIncoming(tx *gorm.DB, in IncomingChat) (*Chat, bool, error) {
	id := utils.SanitizeID(in.ChatID)

	status := StatusClient
	if !in.IsGroup && !in.FromMe {
		status = StatusLead
	}
	unread := 1
	if in.FromMe {
		unread = 0
	}

	chat := &Chat{
		ID:          id,
		Name:        utils.NiceName(id),
		IsGroup:     in.IsGroup,
		Status:      status,
		UnreadCount: unread,
		Last:        in.Last,
		LastTs:      in.LastTs,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(chat)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create chat %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return chat, true, nil
	}

	updates := map[string]interface{}{
		"last":    in.Last,
		"last_ts": in.LastTs,
	}
	if !in.FromMe {
		updates["unread_count"] = gorm.Expr("unread_count + ?", 1)
	}
	if err := tx.Model(&Chat{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update chat %s: %w", id, err)
	}

	existing, err := findChat(tx, id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("chat %s vanished during upsert", id)
	}
	return existing, false, nil
}

// IngestIncoming records one observed message batch atomically: the chat upsert,
// the lead_new event when this call created an individual inbound chat, and the
// messages themselves. The created flag reports whether the chat was new.
func (s *ChatStore) IngestIncoming(ctx context.Context, in IncomingChat, messages []MessageInput) (*Chat, bool, error) {
	var (
		chat    *Chat
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		chat, created, err = upsertIncoming(tx, in)
		if err != nil {
			return err
		}

		if created && !in.IsGroup && !in.FromMe {
			if err = s.insertStream(tx, EventLeadNew, chat.ID, in.LastTs); err != nil {
				return err
			}
		}

		return insertMessages(tx, messages)
	})
	if err != nil {
		return nil, false, err
	}

	s.logger.Debug("ingested incoming activity",
		zap.String("chat_id", chat.ID),
		zap.Bool("created", created),
		zap.Bool("from_me", in.FromMe),
		zap.Int("messages", len(messages)),
	)
	return chat, created, nil
}

// SaveMessages bulk-inserts messages, skipping ids that are already stored.
// Every row is filed under its own sanitized ChatID; chatID is only used for logging.
func (s *ChatStore) SaveMessages(ctx context.Context, chatID string, messages []MessageInput) error {
	if len(messages) == 0 {
		return nil
	}
	if err := insertMessages(s.db.WithContext(ctx), messages); err != nil {
		return err
	}

	s.logger.Debug("saved messages",
		zap.String("chat_id", chatID),
		zap.Int("count", len(messages)),
	)
	return nil
}

func insertMessages(tx *gorm.DB, messages []MessageInput) error {
	if len(messages) == 0 {
		return nil
	}

	rows := make([]Message, 0, len(messages))
	for _, m := range messages {
		rows = append(rows, messageRow(m))
	}

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 100).Error
	if err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}
	return nil
}

func messageRow(m MessageInput) Message {
	ts := m.Timestamp
	if ts == 0 {
		ts = m.Ts
	}
	msgType := m.Type
	if msgType == "" {
		msgType = "chat"
	}

	row := Message{
		ID:              m.ID,
		ChatID:          utils.SanitizeID(m.ChatID),
		From:            m.From,
		To:              nonEmpty(m.To),
		Body:            nonEmpty(m.Body),
		Ts:              ts,
		FromMe:          m.FromMe,
		Type:            msgType,
		HasMedia:        m.HasMedia,
		QuotedMessageID: nonEmpty(m.QuotedMessageID),
		Vcard:           nonEmpty(m.Vcard),
	}
	if m.Location != nil {
		lat, lng, desc := m.Location.Latitude, m.Location.Longitude, m.Location.Description
		row.LocLat = &lat
		row.LocLng = &lng
		row.LocDesc = &desc
	}
	return row
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GetMessages returns up to limit messages of a chat, oldest first.
// A limit of zero or less means DefaultMessageLimit, not an empty page.
func (s *ChatStore) GetMessages(ctx context.Context, chatID string, limit int) ([]MessageView, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	id := utils.SanitizeID(chatID)

	var rows []Message
	err := s.db.WithContext(ctx).
		Where("chat_id = ?", id).
		Order("ts ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages of %s: %w", id, err)
	}

	views := make([]MessageView, 0, len(rows))
	for _, r := range rows {
		views = append(views, messageView(r))
	}
	return views, nil
}

func messageView(r Message) MessageView {
	view := MessageView{
		ID:        r.ID,
		ChatID:    r.ChatID,
		From:      r.From,
		To:        r.To,
		Timestamp: r.Ts,
		FromMe:    r.FromMe,
		Type:      r.Type,
		HasMedia:  r.HasMedia,
	}
	if r.Body != nil {
		view.Body = *r.Body
	}
	if r.QuotedMessageID != nil {
		view.QuotedMessageID = *r.QuotedMessageID
	}
	if r.Vcard != nil {
		view.Vcard = *r.Vcard
	}
	if r.LocLat != nil {
		loc := &Location{Latitude: *r.LocLat}
		if r.LocLng != nil {
			loc.Longitude = *r.LocLng
		}
		if r.LocDesc != nil {
			loc.Description = *r.LocDesc
		}
		view.Location = loc
	}
	return view
}

// ListChats returns chats, pinned first, then by unread count, recency and name.
// Any status other than lead, client or declined lists every chat.
func (s *ChatStore) ListChats(ctx context.Context, status Status) ([]Chat, error) {
	query := s.db.WithContext(ctx).Order(chatListOrder)
	if st, ok := ParseStatus(string(status)); ok {
		query = query.Where("status = ?", st)
	}

	var chats []Chat
	if err := query.Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

// MarkSeen resets the unread counter of a chat. Unknown chats are ignored.
func (s *ChatStore) MarkSeen(ctx context.Context, chatID string) error {
	id := utils.SanitizeID(chatID)
	err := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", id).Update("unread_count", 0).Error
	if err != nil {
		return fmt.Errorf("failed to mark %s as seen: %w", id, err)
	}
	return nil
}

// SetPinned mirrors the pinned state of a chat from the phone.
func (s *ChatStore) SetPinned(ctx context.Context, chatID string, pinned bool) error {
	return s.setFlag(ctx, chatID, "pinned", pinned)
}

// SetArchived mirrors the archived state of a chat from the phone.
func (s *ChatStore) SetArchived(ctx context.Context, chatID string, archived bool) error {
	return s.setFlag(ctx, chatID, "archived", archived)
}

func (s *ChatStore) setFlag(ctx context.Context, chatID, column string, value bool) error {
	id := utils.SanitizeID(chatID)
	err := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", id).Update(column, value).Error
	if err != nil {
		return fmt.Errorf("failed to set %s on %s: %w", column, id, err)
	}
	return nil
}

// OnSendUpdateChat refreshes the preview of a chat after an outbound message,
// creating the chat as a lead when it is not known yet.
func (s *ChatStore) OnSendUpdateChat(ctx context.Context, chatID, text string, ts int64) error {
	id := utils.SanitizeID(chatID)
	chat := &Chat{
		ID:          id,
		Name:        utils.NiceName(id),
		IsGroup:     false,
		Status:      StatusLead,
		UnreadCount: 0,
		Last:        utils.Truncate(text, PreviewLength),
		LastTs:      utils.TsOrNow(ts, s.now()),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last", "last_ts"}),
	}).Create(chat).Error
	if err != nil {
		return fmt.Errorf("failed to update chat %s after send: %w", id, err)
	}
	return nil
}

// InitialUpsertChats stores a batch of chat snapshots one at a time. It is a
// best-effort batch: on failure the error names the failing item and earlier
// items stay committed.
func (s *ChatStore) InitialUpsertChats(ctx context.Context, items []ChatSnapshot) error {
	db := s.db.WithContext(ctx)
	for i, item := range items {
		id := utils.SanitizeID(item.ID)
		name := item.Name
		if name == "" {
			name = utils.NiceName(id)
		}
		status := StatusClient
		if item.IsLead != nil && *item.IsLead {
			status = StatusLead
		}

		chat := &Chat{
			ID:          id,
			Name:        name,
			IsGroup:     item.IsGroup,
			Status:      status,
			UnreadCount: item.UnreadCount,
			Pinned:      item.Pinned,
			Archived:    item.Archived,
			Last:        item.Last,
			LastTs:      item.LastTs,
		}
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "is_group", "unread_count", "pinned", "archived", "last", "last_ts",
			}),
		}).Create(chat).Error
		if err != nil {
			return fmt.Errorf("failed to upsert chat %d (%s): %w", i, id, err)
		}
	}

	s.logger.Info("imported chats", zap.Int("count", len(items)))
	return nil
}
