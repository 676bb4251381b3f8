package whatsapp

import (
	"context"
	"strings"

	"wacrm/database"
	"wacrm/state"
	"wacrm/utils"

	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ChatRecorder is the part of database.ChatStore fed by WhatsApp events.
type ChatRecorder interface {
	IngestIncoming(ctx context.Context, in database.IncomingChat, messages []database.MessageInput) (*database.Chat, bool, error)
	InitialUpsertChats(ctx context.Context, items []database.ChatSnapshot) error
	SaveMessages(ctx context.Context, chatID string, messages []database.MessageInput) error
	MarkSeen(ctx context.Context, chatID string) error
	SetPinned(ctx context.Context, chatID string, pinned bool) error
	SetArchived(ctx context.Context, chatID string, archived bool) error
}

// LIDResolver maps hidden-user ids back to phone numbers. whatsmeow's store.LIDStore satisfies it.
type LIDResolver interface {
	GetPNForLID(ctx context.Context, lid waTypes.JID) (waTypes.JID, error)
}

type Handler struct {
	ctx    context.Context
	store  ChatRecorder
	lids   LIDResolver
	logger *zap.Logger

	ignoreChats     []string
	skipGroups      bool
	skipHistorySync bool
}

func NewHandler(ctx context.Context, store ChatRecorder, cfg *state.Config, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		ctx:             ctx,
		store:           store,
		logger:          logger.Named("WhatsApp"),
		skipGroups:      cfg.WhatsApp.SkipGroups,
		skipHistorySync: cfg.WhatsApp.SkipHistorySync,
	}
	for _, raw := range cfg.WhatsApp.IgnoreChats {
		h.ignoreChats = append(h.ignoreChats, h.ignoredChatID(raw))
	}
	return h
}

// ignoredChatID accepts a phone number or a full JID from the config file.
func (h *Handler) ignoredChatID(raw string) string {
	raw = strings.TrimSpace(raw)
	jid, ok := utils.WaParseJID(raw)
	if !ok {
		h.logger.Warn("could not parse ignored chat, matching it verbatim",
			zap.String("chat", raw),
		)
		return utils.SanitizeID(raw)
	}
	return utils.ChatIDFromJID(jid)
}

// WithLIDResolver lets the handler turn LID chats into phone-number chat ids.
func (h *Handler) WithLIDResolver(r LIDResolver) *Handler {
	h.lids = r
	return h
}

func (h *Handler) Handle(evt interface{}) {

	switch whatsAppEvent := evt.(type) {

	case *events.Connected:
		h.logger.Info("successfully connected to whatsapp")

	case *events.LoggedOut:
		h.logger.Warn("logged out from whatsapp",
			zap.String("reason", whatsAppEvent.Reason.String()),
		)

	case *events.Message:
		h.HandleMessage(whatsAppEvent)

	case *events.HistorySync:
		h.HandleHistorySync(whatsAppEvent)

	case *events.MarkChatAsRead:
		h.HandleMarkChatAsRead(whatsAppEvent)

	case *events.Pin:
		h.HandlePin(whatsAppEvent)

	case *events.Archive:
		h.HandleArchive(whatsAppEvent)
	}

}

func (h *Handler) HandleMessage(event *events.Message) {
	info := event.Info
	if !h.trackable(info.Chat) {
		return
	}

	chatID := h.chatID(info.Chat)
	if h.skip(chatID, info.IsGroup) {
		return
	}

	content, ok := extractContent(event.Message)
	if !ok {
		h.logger.Debug("ignoring message without content",
			zap.String("chat_id", chatID),
			zap.String("message_id", info.ID),
		)
		return
	}

	ts := info.Timestamp.Unix()
	input := messageInput(info.ID, chatID, h.chatID(info.Sender), info.IsFromMe, ts, content)

	chat, created, err := h.store.IngestIncoming(h.ctx, database.IncomingChat{
		ChatID:  chatID,
		IsGroup: info.IsGroup,
		FromMe:  info.IsFromMe,
		Last:    previewText(content),
		LastTs:  ts,
	}, []database.MessageInput{input})
	if err != nil {
		h.logger.Error("failed to record whatsapp message",
			zap.String("chat_id", chatID),
			zap.String("message_id", info.ID),
			zap.Error(err),
		)
		return
	}

	if created {
		h.logger.Info("new chat",
			zap.String("chat_id", chat.ID),
			zap.String("status", string(chat.Status)),
		)
	}
}

func (h *Handler) HandleHistorySync(event *events.HistorySync) {
	if h.skipHistorySync || event.Data == nil {
		return
	}

	var (
		snapshots []database.ChatSnapshot
		messages  = map[string][]database.MessageInput{}
	)
	for _, conv := range event.Data.GetConversations() {
		jid, err := waTypes.ParseJID(conv.GetID())
		if err != nil || jid.IsEmpty() || !h.trackable(jid) {
			continue
		}
		isGroup := jid.Server == waTypes.GroupServer
		chatID := h.chatID(jid)
		if h.skip(chatID, isGroup) {
			continue
		}

		snapshot, history := h.conversationSnapshot(chatID, isGroup, conv)
		snapshots = append(snapshots, snapshot)
		if len(history) > 0 {
			messages[chatID] = history
		}
	}
	if len(snapshots) == 0 {
		return
	}

	if err := h.store.InitialUpsertChats(h.ctx, snapshots); err != nil {
		h.logger.Error("failed to import chats from history sync", zap.Error(err))
		return
	}

	stored := 0
	for chatID, history := range messages {
		if err := h.store.SaveMessages(h.ctx, chatID, history); err != nil {
			h.logger.Error("failed to import history messages",
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
			continue
		}
		stored += len(history)
	}

	h.logger.Info("imported history sync",
		zap.String("sync_type", event.Data.GetSyncType().String()),
		zap.Int("chats", len(snapshots)),
		zap.Int("messages", stored),
	)
}

func (h *Handler) conversationSnapshot(chatID string, isGroup bool, conv *waHistorySync.Conversation) (database.ChatSnapshot, []database.MessageInput) {
	snapshot := database.ChatSnapshot{
		ID:          chatID,
		Name:        conv.GetName(),
		IsGroup:     isGroup,
		UnreadCount: int(conv.GetUnreadCount()),
		Pinned:      conv.GetPinned() > 0,
		Archived:    conv.GetArchived(),
		LastTs:      int64(conv.GetConversationTimestamp()),
	}
	if snapshot.Name == "" {
		snapshot.Name = conv.GetDisplayName()
	}

	var (
		history  []database.MessageInput
		latestTs int64
	)
	for _, hsMsg := range conv.GetMessages() {
		webMsg := hsMsg.GetMessage()
		input, content, ok := h.historyMessage(chatID, isGroup, webMsg)
		if !ok {
			continue
		}
		history = append(history, input)
		if input.Timestamp >= latestTs {
			latestTs = input.Timestamp
			snapshot.Last = previewText(content)
		}
	}
	if snapshot.LastTs == 0 {
		snapshot.LastTs = latestTs
	}
	return snapshot, history
}

func (h *Handler) historyMessage(chatID string, isGroup bool, webMsg *waWeb.WebMessageInfo) (database.MessageInput, messageContent, bool) {
	key := webMsg.GetKey()
	if key.GetID() == "" {
		return database.MessageInput{}, messageContent{}, false
	}
	content, ok := extractContent(webMsg.GetMessage())
	if !ok {
		return database.MessageInput{}, messageContent{}, false
	}

	from := chatID
	if isGroup {
		from = webMsg.GetParticipant()
		if from == "" {
			from = key.GetParticipant()
		}
		if jid, err := waTypes.ParseJID(from); err == nil && !jid.IsEmpty() {
			from = h.chatID(jid)
		}
	}

	input := messageInput(key.GetID(), chatID, from, key.GetFromMe(), int64(webMsg.GetMessageTimestamp()), content)
	return input, content, true
}

func (h *Handler) HandleMarkChatAsRead(event *events.MarkChatAsRead) {
	if !event.Action.GetRead() || !h.trackable(event.JID) {
		return
	}
	chatID := h.chatID(event.JID)
	if err := h.store.MarkSeen(h.ctx, chatID); err != nil {
		h.logger.Error("failed to mark chat as seen",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
	}
}

func (h *Handler) HandlePin(event *events.Pin) {
	if !h.trackable(event.JID) {
		return
	}
	chatID := h.chatID(event.JID)
	if err := h.store.SetPinned(h.ctx, chatID, event.Action.GetPinned()); err != nil {
		h.logger.Error("failed to update pin status",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
	}
}

func (h *Handler) HandleArchive(event *events.Archive) {
	if !h.trackable(event.JID) {
		return
	}
	chatID := h.chatID(event.JID)
	if err := h.store.SetArchived(h.ctx, chatID, event.Action.GetArchived()); err != nil {
		h.logger.Error("failed to update archive status",
			zap.String("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// trackable filters out status updates, broadcast lists and newsletters.
func (h *Handler) trackable(jid waTypes.JID) bool {
	switch jid.Server {
	case waTypes.BroadcastServer, waTypes.NewsletterServer:
		return false
	}
	return true
}

func (h *Handler) skip(chatID string, isGroup bool) bool {
	if isGroup && h.skipGroups {
		return true
	}
	return slices.Contains(h.ignoreChats, chatID)
}

func (h *Handler) chatID(jid waTypes.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == waTypes.HiddenUserServer && h.lids != nil {
		pn, err := h.lids.GetPNForLID(h.ctx, jid)
		if err != nil {
			h.logger.Debug("failed to resolve lid",
				zap.String("lid", jid.String()),
				zap.Error(err),
			)
		} else if !pn.IsEmpty() {
			jid = pn
		}
	}
	return utils.ChatIDFromJID(jid)
}

func messageInput(id, chatID, from string, fromMe bool, ts int64, c messageContent) database.MessageInput {
	input := database.MessageInput{
		ID:              id,
		ChatID:          chatID,
		From:            from,
		Body:            c.Body,
		Timestamp:       ts,
		FromMe:          fromMe,
		Type:            c.Type,
		HasMedia:        c.HasMedia,
		QuotedMessageID: c.Quoted,
		Vcard:           c.Vcard,
		Location:        c.Location,
	}
	if fromMe {
		input.To = chatID
	}
	return input
}
