package utils

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

const (
	UserChatSuffix  = "@c.us"
	GroupChatSuffix = "@g.us"
)

// SanitizeID normalizes a raw chat identifier to its canonical "<digits>@c.us" form.
// Identifiers that already carry a "@c.us" or "@g.us" suffix are returned as is.
// When the input holds no digits at all it is returned unchanged.
func SanitizeID(raw string) string {
	lower := strings.ToLower(raw)
	if strings.HasSuffix(lower, UserChatSuffix) || strings.HasSuffix(lower, GroupChatSuffix) {
		return raw
	}

	digits := OnlyDigits(raw)
	if digits == "" {
		return raw
	}
	return digits + UserChatSuffix
}

// NiceName is the default display name of a chat: its digits prefixed by "+".
func NiceName(id string) string {
	return "+" + OnlyDigits(id)
}

func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func IsGroupChatID(id string) bool {
	return strings.HasSuffix(strings.ToLower(id), GroupChatSuffix)
}

// ChatIDFromJID converts a whatsmeow JID into the canonical chat identifier.
func ChatIDFromJID(jid types.JID) string {
	if jid.Server == types.GroupServer {
		return jid.User + GroupChatSuffix
	}
	return SanitizeID(jid.User)
}

// WaParseJID parses user input such as "+15551234567" or "15551234567@s.whatsapp.net".
func WaParseJID(s string) (types.JID, bool) {
	if s == "" {
		return types.JID{}, false
	}
	s = strings.TrimPrefix(s, "+")

	if !strings.ContainsRune(s, '@') {
		return types.NewJID(s, types.DefaultUserServer).ToNonAD(), true
	}

	recipient, err := types.ParseJID(s)
	if err != nil || recipient.User == "" {
		return recipient, false
	}

	return recipient, true
}
