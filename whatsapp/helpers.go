package whatsapp

import (
	"strings"

	"wacrm/database"

	goVCard "github.com/emersion/go-vcard"
	"go.mau.fi/whatsmeow/proto/waE2E"
)

// Message types, named the way the CRM frontend already knows them.
const (
	TypeChat      = "chat"
	TypeImage     = "image"
	TypeVideo     = "video"
	TypeAudio     = "audio"
	TypeVoice     = "ptt"
	TypeDocument  = "document"
	TypeSticker   = "sticker"
	TypeContact   = "vcard"
	TypeContacts  = "multi_vcard"
	TypeLocation  = "location"
	TypeLiveShare = "live_location"
)

type messageContent struct {
	Body     string
	Type     string
	HasMedia bool
	Quoted   string
	Vcard    string
	Location *database.Location
}

// extractContent reads the user-visible part of a message. The second return
// is false for protocol messages, reactions and anything else without content.
func extractContent(msg *waE2E.Message) (messageContent, bool) {
	if msg == nil {
		return messageContent{}, false
	}

	var (
		c       messageContent
		ctxInfo *waE2E.ContextInfo
	)

	switch {
	case msg.GetConversation() != "":
		c.Body, c.Type = msg.GetConversation(), TypeChat

	case msg.GetExtendedTextMessage() != nil:
		m := msg.GetExtendedTextMessage()
		c.Body, c.Type = m.GetText(), TypeChat
		ctxInfo = m.GetContextInfo()

	case msg.GetImageMessage() != nil:
		m := msg.GetImageMessage()
		c.Body, c.Type, c.HasMedia = m.GetCaption(), TypeImage, true
		ctxInfo = m.GetContextInfo()

	case msg.GetVideoMessage() != nil:
		m := msg.GetVideoMessage()
		c.Body, c.Type, c.HasMedia = m.GetCaption(), TypeVideo, true
		ctxInfo = m.GetContextInfo()

	case msg.GetAudioMessage() != nil:
		m := msg.GetAudioMessage()
		c.Type, c.HasMedia = TypeAudio, true
		if m.GetPTT() {
			c.Type = TypeVoice
		}
		ctxInfo = m.GetContextInfo()

	case msg.GetDocumentMessage() != nil:
		m := msg.GetDocumentMessage()
		c.Body, c.Type, c.HasMedia = m.GetCaption(), TypeDocument, true
		if c.Body == "" {
			c.Body = m.GetFileName()
		}
		ctxInfo = m.GetContextInfo()

	case msg.GetStickerMessage() != nil:
		c.Type, c.HasMedia = TypeSticker, true
		ctxInfo = msg.GetStickerMessage().GetContextInfo()

	case msg.GetContactMessage() != nil:
		m := msg.GetContactMessage()
		c.Type, c.Vcard = TypeContact, m.GetVcard()
		c.Body = contactPreview(m.GetDisplayName(), m.GetVcard())
		ctxInfo = m.GetContextInfo()

	case msg.GetContactsArrayMessage() != nil:
		m := msg.GetContactsArrayMessage()
		var previews, cards []string
		for _, contact := range m.GetContacts() {
			previews = append(previews, contactPreview(contact.GetDisplayName(), contact.GetVcard()))
			cards = append(cards, contact.GetVcard())
		}
		c.Type = TypeContacts
		c.Body = strings.Join(previews, ", ")
		c.Vcard = strings.Join(cards, "\n")
		ctxInfo = m.GetContextInfo()

	case msg.GetLocationMessage() != nil:
		m := msg.GetLocationMessage()
		c.Type = TypeLocation
		c.Location = &database.Location{
			Latitude:    m.GetDegreesLatitude(),
			Longitude:   m.GetDegreesLongitude(),
			Description: locationDescription(m.GetName(), m.GetAddress()),
		}
		c.Body = c.Location.Description
		ctxInfo = m.GetContextInfo()

	case msg.GetLiveLocationMessage() != nil:
		m := msg.GetLiveLocationMessage()
		c.Type = TypeLiveShare
		c.Location = &database.Location{
			Latitude:    m.GetDegreesLatitude(),
			Longitude:   m.GetDegreesLongitude(),
			Description: m.GetCaption(),
		}
		c.Body = m.GetCaption()
		ctxInfo = m.GetContextInfo()

	default:
		return messageContent{}, false
	}

	c.Quoted = ctxInfo.GetStanzaID()
	return c, true
}

// contactPreview renders a shared contact as "Name (phone)" from its vCard,
// falling back to the display name WhatsApp sent along.
func contactPreview(displayName, vcard string) string {
	name, tel := displayName, ""

	card, err := goVCard.NewDecoder(strings.NewReader(vcard)).Decode()
	if err == nil {
		if fn := card.PreferredValue(goVCard.FieldFormattedName); fn != "" {
			name = fn
		}
		tel = card.PreferredValue(goVCard.FieldTelephone)
	}

	switch {
	case name != "" && tel != "":
		return name + " (" + tel + ")"
	case name != "":
		return name
	default:
		return tel
	}
}

func locationDescription(name, address string) string {
	switch {
	case name != "" && address != "":
		return name + ", " + address
	case name != "":
		return name
	default:
		return address
	}
}

// previewText is the chat list preview for a message.
func previewText(c messageContent) string {
	if c.Body != "" {
		return c.Body
	}
	return "[" + c.Type + "]"
}
