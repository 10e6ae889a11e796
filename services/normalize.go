package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Software-Engineering-Group-Bazaar/bazaar-mobile-react-native-sub001/models"
)

// UnknownSender stands in for any author field the source did not provide.
var UnknownSender = models.Author{ID: "unknown", Name: "Unknown sender"}

// NormalizeMessage maps a history, live or local message onto the canonical
// shape. It never fails: missing fields fall back to sentinels, a missing
// timestamp to fallback, and a missing id to a name-based UUID derived from
// the content so the same message seen twice gets the same id.
func NormalizeMessage(dto models.MessageDTO, source models.MessageSource, fallback time.Time) models.ChatMessage {
	msg := models.ChatMessage{
		ConversationID: dto.ConversationID.Int64(),
		IsPrivate:      dto.IsPrivate,
		Source:         source,
	}

	switch {
	case dto.Content != "":
		msg.Text = dto.Content
	default:
		msg.Text = dto.Text
	}

	switch {
	case !dto.SentAt.IsZero():
		msg.CreatedAt = dto.SentAt.Time
	case !dto.CreatedAt.IsZero():
		msg.CreatedAt = dto.CreatedAt.Time
	default:
		msg.CreatedAt = fallback.UTC()
	}

	msg.Author = normalizeAuthor(dto)

	switch {
	case dto.ID != "":
		msg.ID = dto.ID.String()
	case dto.MessageID != "":
		msg.ID = dto.MessageID.String()
	default:
		msg.ID = derivedMessageID(msg)
	}
	return msg
}

func normalizeAuthor(dto models.MessageDTO) models.Author {
	var user models.DTOUser
	if dto.User != nil {
		user = *dto.User
	}
	author := models.Author{
		ID:     firstNonEmpty(dto.SenderID.String(), user.ID.String()),
		Name:   firstNonEmpty(dto.SenderUsername, dto.SenderName, user.Name),
		Avatar: firstNonEmpty(dto.SenderAvatarURL, user.Avatar),
	}
	if author.ID == "" {
		author.ID = UnknownSender.ID
	}
	if author.Name == "" {
		author.Name = UnknownSender.Name
	}
	return author
}

func derivedMessageID(m models.ChatMessage) string {
	key := fmt.Sprintf("bazaar:message:%d:%s:%d:%s", m.ConversationID, m.Author.ID, m.CreatedAt.UnixNano(), m.Text)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// NewLocalMessage builds a client-authored message for the demo path. It goes
// through NormalizeMessage like every other source.
func NewLocalMessage(auth models.AuthContext, conversationID int64, text string, isPrivate bool, now time.Time) models.ChatMessage {
	dto := models.MessageDTO{
		ID:             models.FlexID(uuid.NewString()),
		ConversationID: models.FlexID(fmt.Sprint(conversationID)),
		Text:           text,
		CreatedAt:      models.FlexTime{Time: now},
		IsPrivate:      isPrivate,
		User: &models.DTOUser{
			ID:   models.FlexID(auth.UserID),
			Name: auth.Username,
		},
	}
	return NormalizeMessage(dto, models.SourceLocal, now)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
