package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"wacrm/state"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

var testNow = time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *ChatStore {
	t.Helper()

	cfg := &state.Config{SilentDbLogs: true}
	cfg.Database = map[string]string{
		"type": "sqlite",
		"url":  "file:" + filepath.Join(t.TempDir(), "crm.db") + "?_foreign_keys=on",
	}

	db, err := Connect(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err = MigrateDatabase(db); err != nil {
		t.Fatalf("MigrateDatabase: %v", err)
	}

	st := NewChatStore(db, zap.NewNop(), WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { st.Close() })
	return st
}

func mustNoErr(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

func mustIncoming(t *testing.T, st *ChatStore, in IncomingChat) *Chat {
	t.Helper()
	chat, err := st.UpsertChatOnIncoming(context.Background(), in)
	mustNoErr(t, err, "UpsertChatOnIncoming "+in.ChatID)
	return chat
}

func mustGetChat(t *testing.T, st *ChatStore, id string) *Chat {
	t.Helper()
	chat, err := st.GetChat(context.Background(), id)
	mustNoErr(t, err, "GetChat "+id)
	if chat == nil {
		t.Fatalf("chat %s not found", id)
	}
	return chat
}

func countRows(t *testing.T, st *ChatStore, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	db := st.db.Model(model)
	if query != "" {
		db = db.Where(query, args...)
	}
	mustNoErr(t, db.Count(&n).Error, "count rows")
	return n
}

func chatIDs(chats []Chat) []string {
	ids := make([]string, 0, len(chats))
	for _, c := range chats {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestUpsertChatOnIncomingCreatesLead(t *testing.T) {
	st := newTestStore(t)

	chat := mustIncoming(t, st, IncomingChat{ChatID: "+1 555 123 4567", Last: "hello", LastTs: 1700000000})

	want := &Chat{
		ID:          "15551234567@c.us",
		Name:        "+15551234567",
		Status:      StatusLead,
		UnreadCount: 1,
		Last:        "hello",
		LastTs:      1700000000,
	}
	if diff := cmp.Diff(want, chat); diff != "" {
		t.Errorf("created chat mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, mustGetChat(t, st, "15551234567")); diff != "" {
		t.Errorf("stored chat mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsertChatOnIncomingInitialStatus(t *testing.T) {
	tests := []struct {
		name       string
		in         IncomingChat
		wantStatus Status
		wantUnread int
	}{
		{"inbound individual", IncomingChat{ChatID: "111"}, StatusLead, 1},
		{"outbound individual", IncomingChat{ChatID: "222", FromMe: true}, StatusClient, 0},
		{"inbound group", IncomingChat{ChatID: "333@g.us", IsGroup: true}, StatusClient, 1},
		{"outbound group", IncomingChat{ChatID: "444@g.us", IsGroup: true, FromMe: true}, StatusClient, 0},
	}

	st := newTestStore(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat := mustIncoming(t, st, tt.in)
			if chat.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", chat.Status, tt.wantStatus)
			}
			if chat.UnreadCount != tt.wantUnread {
				t.Errorf("unread = %d, want %d", chat.UnreadCount, tt.wantUnread)
			}
			if chat.IsGroup != tt.in.IsGroup {
				t.Errorf("isGroup = %v, want %v", chat.IsGroup, tt.in.IsGroup)
			}
		})
	}
}

func TestUpsertChatOnIncomingUpdatePath(t *testing.T) {
	st := newTestStore(t)

	mustIncoming(t, st, IncomingChat{ChatID: "15551234567", Last: "one", LastTs: 100})
	chat := mustIncoming(t, st, IncomingChat{ChatID: "15551234567@c.us", Last: "two", LastTs: 200})
	if chat.UnreadCount != 2 {
		t.Errorf("unread after two inbound = %d, want 2", chat.UnreadCount)
	}
	if chat.Last != "two" || chat.LastTs != 200 {
		t.Errorf("preview = %q/%d, want two/200", chat.Last, chat.LastTs)
	}

	chat = mustIncoming(t, st, IncomingChat{ChatID: "15551234567", FromMe: true, Last: "mine", LastTs: 300})
	if chat.UnreadCount != 2 {
		t.Errorf("self-sent message changed unread to %d", chat.UnreadCount)
	}
	if chat.Last != "mine" || chat.LastTs != 300 {
		t.Errorf("preview = %q/%d, want mine/300", chat.Last, chat.LastTs)
	}
	if chat.Status != StatusLead {
		t.Errorf("update path changed status to %q", chat.Status)
	}
}

func TestSaveMessagesSkipsDuplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustIncoming(t, st, IncomingChat{ChatID: "15551234567"})

	msgs := []MessageInput{
		{ID: "m1", ChatID: "15551234567", From: "15551234567@c.us", Body: "hi", Timestamp: 10},
		{ID: "m2", ChatID: "15551234567", From: "15551234567@c.us", Body: "there", Timestamp: 20},
	}
	mustNoErr(t, st.SaveMessages(ctx, "15551234567", msgs), "first SaveMessages")
	mustNoErr(t, st.SaveMessages(ctx, "15551234567", msgs), "second SaveMessages")

	if n := countRows(t, st, &Message{}, ""); n != 2 {
		t.Errorf("message rows = %d, want 2", n)
	}
}

func TestSaveMessagesEmptyIsNoop(t *testing.T) {
	st := newTestStore(t)
	mustNoErr(t, st.SaveMessages(context.Background(), "1", nil), "SaveMessages(nil)")
	if n := countRows(t, st, &Message{}, ""); n != 0 {
		t.Errorf("message rows = %d, want 0", n)
	}
}

func TestSaveMessagesUsesEachRowsChatID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustIncoming(t, st, IncomingChat{ChatID: "111"})
	mustIncoming(t, st, IncomingChat{ChatID: "222"})

	err := st.SaveMessages(ctx, "111", []MessageInput{
		{ID: "a", ChatID: "+111", Ts: 1},
		{ID: "b", ChatID: "222@c.us", Ts: 2},
	})
	mustNoErr(t, err, "SaveMessages")

	if n := countRows(t, st, &Message{}, "chat_id = ?", "111@c.us"); n != 1 {
		t.Errorf("messages in 111@c.us = %d, want 1", n)
	}
	if n := countRows(t, st, &Message{}, "chat_id = ?", "222@c.us"); n != 1 {
		t.Errorf("messages in 222@c.us = %d, want 1", n)
	}
}

func TestGetMessagesOrderAndMapping(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustIncoming(t, st, IncomingChat{ChatID: "15551234567"})

	err := st.SaveMessages(ctx, "15551234567", []MessageInput{
		{ID: "late", ChatID: "15551234567", From: "me", To: "15551234567@c.us", Body: "third", Timestamp: 30, FromMe: true},
		{ID: "early", ChatID: "15551234567", From: "15551234567@c.us", Ts: 10, Type: "location",
			Location: &Location{Latitude: 52.52, Longitude: 13.405, Description: "Berlin"}},
		{ID: "mid", ChatID: "15551234567", From: "15551234567@c.us", Body: "second", Timestamp: 20,
			QuotedMessageID: "early", Vcard: "BEGIN:VCARD\nEND:VCARD"},
	})
	mustNoErr(t, err, "SaveMessages")

	got, err := st.GetMessages(ctx, "15551234567@c.us", 0)
	mustNoErr(t, err, "GetMessages")

	to := "15551234567@c.us"
	want := []MessageView{
		{ID: "early", ChatID: "15551234567@c.us", From: "15551234567@c.us", Timestamp: 10, Type: "location",
			Location: &Location{Latitude: 52.52, Longitude: 13.405, Description: "Berlin"}},
		{ID: "mid", ChatID: "15551234567@c.us", From: "15551234567@c.us", Body: "second", Timestamp: 20, Type: "chat",
			QuotedMessageID: "early", Vcard: "BEGIN:VCARD\nEND:VCARD"},
		{ID: "late", ChatID: "15551234567@c.us", From: "me", To: &to, Body: "third", Timestamp: 30, FromMe: true, Type: "chat"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Errorf("messages out of order at %d: %d < %d", i, got[i].Timestamp, got[i-1].Timestamp)
		}
	}
}

func TestGetMessagesLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustIncoming(t, st, IncomingChat{ChatID: "1"})

	var msgs []MessageInput
	for i := 0; i < 5; i++ {
		msgs = append(msgs, MessageInput{ID: string(rune('a' + i)), ChatID: "1", Ts: int64(100 - i)})
	}
	mustNoErr(t, st.SaveMessages(ctx, "1", msgs), "SaveMessages")

	got, err := st.GetMessages(ctx, "1", 3)
	mustNoErr(t, err, "GetMessages")
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Timestamp != 96 || got[2].Timestamp != 98 {
		t.Errorf("unexpected window: %d..%d", got[0].Timestamp, got[2].Timestamp)
	}
}

func TestListChatsFilterAndOrder(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	isLead := true

	err := st.InitialUpsertChats(ctx, []ChatSnapshot{
		{ID: "1", Name: "Zed", IsLead: &isLead, UnreadCount: 0, LastTs: 50},
		{ID: "2", Name: "Amy", IsLead: &isLead, UnreadCount: 3, LastTs: 10},
		{ID: "3", Name: "Bob", IsLead: &isLead, UnreadCount: 3, LastTs: 40},
		{ID: "4", Name: "Cat", IsLead: &isLead, Pinned: true, LastTs: 1},
		{ID: "5", Name: "Abe", IsLead: &isLead, UnreadCount: 0, LastTs: 50},
		{ID: "6", Name: "Client", UnreadCount: 9, LastTs: 99},
	})
	mustNoErr(t, err, "InitialUpsertChats")

	leads, err := st.ListChats(ctx, StatusLead)
	mustNoErr(t, err, "ListChats(lead)")
	want := []string{"4@c.us", "3@c.us", "2@c.us", "5@c.us", "1@c.us"}
	if diff := cmp.Diff(want, chatIDs(leads)); diff != "" {
		t.Errorf("lead order mismatch (-want +got):\n%s", diff)
	}
	for _, c := range leads {
		if c.Status != StatusLead {
			t.Errorf("chat %s has status %q in lead listing", c.ID, c.Status)
		}
	}

	all, err := st.ListChats(ctx, Status("bogus"))
	mustNoErr(t, err, "ListChats(bogus)")
	if len(all) != 6 {
		t.Errorf("unfiltered listing returned %d chats, want 6", len(all))
	}
	if all[0].ID != "4@c.us" || all[1].ID != "6@c.us" {
		t.Errorf("unexpected head of listing: %v", chatIDs(all)[:2])
	}

	clients, err := st.ListChats(ctx, StatusClient)
	mustNoErr(t, err, "ListChats(client)")
	if diff := cmp.Diff([]string{"6@c.us"}, chatIDs(clients)); diff != "" {
		t.Errorf("client listing mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkSeen(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	mustIncoming(t, st, IncomingChat{ChatID: "15551234567"})
	mustIncoming(t, st, IncomingChat{ChatID: "15551234567"})

	mustNoErr(t, st.MarkSeen(ctx, "+1 555 123 4567"), "MarkSeen")
	if chat := mustGetChat(t, st, "15551234567"); chat.UnreadCount != 0 {
		t.Errorf("unread after MarkSeen = %d, want 0", chat.UnreadCount)
	}

	mustNoErr(t, st.MarkSeen(ctx, "99999"), "MarkSeen on unknown chat")
}

func TestOnSendUpdateChat(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("x", 200)
	mustNoErr(t, st.OnSendUpdateChat(ctx, "15551234567", long, 0), "OnSendUpdateChat create")

	chat := mustGetChat(t, st, "15551234567")
	if chat.Status != StatusLead || chat.UnreadCount != 0 || chat.IsGroup {
		t.Errorf("unexpected created chat: %+v", chat)
	}
	if len(chat.Last) != PreviewLength {
		t.Errorf("preview length = %d, want %d", len(chat.Last), PreviewLength)
	}
	if chat.LastTs != testNow.Unix() {
		t.Errorf("lastTs = %d, want now %d", chat.LastTs, testNow.Unix())
	}
	if chat.Name != "+15551234567" {
		t.Errorf("name = %q", chat.Name)
	}

	_, err := st.SetStatus(ctx, "15551234567", StatusClient)
	mustNoErr(t, err, "SetStatus")
	mustNoErr(t, st.OnSendUpdateChat(ctx, "15551234567@c.us", "short", 1234), "OnSendUpdateChat update")

	chat = mustGetChat(t, st, "15551234567")
	if chat.Last != "short" || chat.LastTs != 1234 {
		t.Errorf("preview = %q/%d, want short/1234", chat.Last, chat.LastTs)
	}
	if chat.Status != StatusClient {
		t.Errorf("update path changed status to %q", chat.Status)
	}
}

func TestInitialUpsertChats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	yes, no := true, false

	err := st.InitialUpsertChats(ctx, []ChatSnapshot{
		{ID: "111", IsLead: &yes, UnreadCount: 2, Pinned: true, Last: "hey", LastTs: 5},
		{ID: "222", Name: "Acme", IsLead: &no, Archived: true},
		{ID: "333@g.us", Name: "Team", IsGroup: true},
	})
	mustNoErr(t, err, "InitialUpsertChats")

	want := &Chat{ID: "111@c.us", Name: "+111", Status: StatusLead, UnreadCount: 2, Pinned: true, Last: "hey", LastTs: 5}
	if diff := cmp.Diff(want, mustGetChat(t, st, "111")); diff != "" {
		t.Errorf("chat 111 mismatch (-want +got):\n%s", diff)
	}
	if c := mustGetChat(t, st, "222"); c.Status != StatusClient || c.Name != "Acme" || !c.Archived {
		t.Errorf("unexpected chat 222: %+v", c)
	}
	if c := mustGetChat(t, st, "333@g.us"); c.Status != StatusClient || !c.IsGroup {
		t.Errorf("unexpected chat 333: %+v", c)
	}

	err = st.InitialUpsertChats(ctx, []ChatSnapshot{
		{ID: "111@c.us", Name: "Renamed", UnreadCount: 0, Last: "later", LastTs: 9},
	})
	mustNoErr(t, err, "second InitialUpsertChats")

	want = &Chat{ID: "111@c.us", Name: "Renamed", Status: StatusLead, Last: "later", LastTs: 9}
	if diff := cmp.Diff(want, mustGetChat(t, st, "111")); diff != "" {
		t.Errorf("updated chat mismatch (-want +got):\n%s", diff)
	}
}

func TestSetPinnedAndArchived(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustIncoming(t, st, IncomingChat{ChatID: "1"})

	mustNoErr(t, st.SetPinned(ctx, "1", true), "SetPinned")
	mustNoErr(t, st.SetArchived(ctx, "1@c.us", true), "SetArchived")

	chat := mustGetChat(t, st, "1")
	if !chat.Pinned || !chat.Archived {
		t.Errorf("flags not set: %+v", chat)
	}

	mustNoErr(t, st.SetPinned(ctx, "1", false), "SetPinned false")
	if mustGetChat(t, st, "1").Pinned {
		t.Error("pinned should be cleared")
	}
}

func TestGetChatMissing(t *testing.T) {
	st := newTestStore(t)
	chat, err := st.GetChat(context.Background(), "404")
	mustNoErr(t, err, "GetChat")
	if chat != nil {
		t.Errorf("expected nil chat, got %+v", chat)
	}
}

func TestFindChats(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	err := st.InitialUpsertChats(ctx, []ChatSnapshot{
		{ID: "15551234567", Name: "Maria Lopez"},
		{ID: "15559876543", Name: "Mark Twain"},
		{ID: "447700900000", Name: "Oscar"},
	})
	mustNoErr(t, err, "InitialUpsertChats")

	got, err := st.FindChats(ctx, "mar")
	mustNoErr(t, err, "FindChats")
	ids := chatIDs(got)
	if len(ids) != 2 {
		t.Fatalf("FindChats(mar) = %v, want two matches", ids)
	}
	for _, id := range ids {
		if id == "447700900000@c.us" {
			t.Errorf("Oscar should not match: %v", ids)
		}
	}

	got, err = st.FindChats(ctx, "4477")
	mustNoErr(t, err, "FindChats by id")
	if diff := cmp.Diff([]string{"447700900000@c.us"}, chatIDs(got)); diff != "" {
		t.Errorf("FindChats(4477) mismatch (-want +got):\n%s", diff)
	}

	got, err = st.FindChats(ctx, "   ")
	mustNoErr(t, err, "FindChats empty")
	if len(got) != 0 {
		t.Errorf("blank query returned %d chats", len(got))
	}
}
