package database

// Status is the lifecycle state of a chat in the sales funnel.
type Status string

const (
	StatusLead     Status = "lead"
	StatusClient   Status = "client"
	StatusDeclined Status = "declined"
)

// ParseStatus reports whether s names one of the chat lifecycle states.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusLead, StatusClient, StatusDeclined:
		return Status(s), true
	}
	return "", false
}

// EventType names an analytics event.
type EventType string

const (
	EventLeadNew   EventType = "lead_new"
	EventClientNew EventType = "client_new"
	EventDecline   EventType = "decline"
)

// Chat is one row of the chats table.
type Chat struct {
	ID          string `gorm:"primaryKey" json:"id"` // <digits>@c.us or <digits>@g.us
	Name        string `json:"name"`
	IsGroup     bool   `json:"isGroup"`
	Status      Status `json:"status"`
	UnreadCount int    `json:"unreadCount"`
	Pinned      bool   `json:"pinned"`
	Archived    bool   `json:"archived"`
	Last        string `json:"last"`
	LastTs      int64  `json:"lastTs"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID              string `gorm:"primaryKey"` // provider message ID
	ChatID          string
	From            string
	To              *string
	Body            *string
	Ts              int64
	FromMe          bool
	Type            string
	HasMedia        bool
	QuotedMessageID *string
	Vcard           *string
	LocLat          *float64
	LocLng          *float64
	LocDesc         *string
}

func (Message) TableName() string { return "messages" }

type AnalyticsStream struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	ChatID   string
	Type     EventType
	Ts       int64
	MonthKey string
}

func (AnalyticsStream) TableName() string { return "analytics_stream" }

// AnalyticsMonthly rows are unique per (chat_id, type, month_key).
type AnalyticsMonthly struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	ChatID   string
	Type     EventType
	Ts       int64
	MonthKey string
}

func (AnalyticsMonthly) TableName() string { return "analytics_monthly" }

type Location struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description"`
}

// IncomingChat describes the chat side of one observed message.
type IncomingChat struct {
	ChatID  string `json:"chatId" validate:"required"`
	IsGroup bool   `json:"isGroup"`
	FromMe  bool   `json:"fromMe"`
	Last    string `json:"last"`
	LastTs  int64  `json:"lastTs"`
}

// MessageInput is a provider message payload. Timestamp wins over Ts when both are set.
type MessageInput struct {
	ID              string    `json:"id" validate:"required"`
	ChatID          string    `json:"chatId" validate:"required"`
	From            string    `json:"from"`
	To              string    `json:"to,omitempty"`
	Body            string    `json:"body,omitempty"`
	Timestamp       int64     `json:"timestamp,omitempty"`
	Ts              int64     `json:"ts,omitempty"`
	FromMe          bool      `json:"fromMe"`
	Type            string    `json:"type,omitempty"`
	HasMedia        bool      `json:"hasMedia"`
	QuotedMessageID string    `json:"quotedMessageId,omitempty"`
	Vcard           string    `json:"vcard,omitempty"`
	Location        *Location `json:"location,omitempty"`
}

// MessageView is a stored message as handed back to callers.
type MessageView struct {
	ID              string    `json:"id"`
	ChatID          string    `json:"chatId"`
	From            string    `json:"from"`
	To              *string   `json:"to"`
	Body            string    `json:"body"`
	Timestamp       int64     `json:"timestamp"`
	FromMe          bool      `json:"fromMe"`
	Type            string    `json:"type"`
	HasMedia        bool      `json:"hasMedia"`
	QuotedMessageID string    `json:"quotedMessageId,omitempty"`
	Vcard           string    `json:"vcard,omitempty"`
	Location        *Location `json:"location,omitempty"`
}

// LeadProbe carries what RecordLeadNewIfFirstCreate needs to know about a message.
type LeadProbe struct {
	ChatID  string
	IsGroup bool
	FromMe  bool
	Ts      int64
}

// ChatSnapshot is an externally sourced chat state, e.g. from an initial sync.
type ChatSnapshot struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name,omitempty"`
	IsGroup     bool   `json:"isGroup"`
	IsLead      *bool  `json:"isLead,omitempty"`
	UnreadCount int    `json:"unreadCount"`
	Pinned      bool   `json:"pinned"`
	Archived    bool   `json:"archived"`
	Last        string `json:"last"`
	LastTs      int64  `json:"lastTs"`
}

type AnalyticsRange struct {
	FromSec int64
	ToSec   int64 // zero means now
}

type AnalyticsSummary struct {
	LeadsNew   int64 `json:"leadsNew"`
	ClientsNew int64 `json:"clientsNew"`
	Declines   int64 `json:"declines"`
}

type MonthlyCount struct {
	MonthKey   string `json:"monthKey"`
	LeadsNew   int64  `json:"leadsNew"`
	ClientsNew int64  `json:"clientsNew"`
	Declines   int64  `json:"declines"`
}

type MonthlyResult int

const (
	MonthlyInserted MonthlyResult = iota
	MonthlyAlreadyExists
)

func (r MonthlyResult) String() string {
	if r == MonthlyAlreadyExists {
		return "already_exists"
	}
	return "inserted"
}
