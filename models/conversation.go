package models

// Conversation is the read model returned by GET conversations.
type Conversation struct {
	ID                  int64    `json:"id"`
	OtherPartyUsername  string   `json:"otherPartyUsername"`
	OtherPartyAvatarURL string   `json:"otherPartyAvatarUrl"`
	LastMessageContent  string   `json:"lastMessageContent"`
	LastMessageSentAt   FlexTime `json:"lastMessageSentAt"`
	UnreadMessageCount  int      `json:"unreadMessageCount"`
	Title               string   `json:"title,omitempty"`
	TicketID            *int64   `json:"ticketId,omitempty"`
	OrderID             *int64   `json:"orderId,omitempty"`
	ProductID           *int64   `json:"productId,omitempty"`
	StoreID             *int64   `json:"storeId,omitempty"`
}

type FindOrCreateRequest struct {
	StoreID   int64  `json:"storeId" validate:"required,gt=0"`
	OrderID   *int64 `json:"orderId,omitempty" validate:"omitempty,gt=0"`
	ProductID *int64 `json:"productId,omitempty" validate:"omitempty,gt=0"`
}

// FindOrCreateResponse carries the conversation plus the counterpart identity.
type FindOrCreateResponse struct {
	ID                  int64  `json:"id"`
	ConversationID      int64  `json:"conversationId"`
	OtherPartyUsername  string `json:"otherPartyUsername"`
	OtherPartyAvatarURL string `json:"otherPartyAvatarUrl"`
	SellerUsername      string `json:"sellerUsername"`
	StoreName           string `json:"storeName"`
	StoreLogoURL        string `json:"storeLogoUrl"`
	Title               string `json:"title"`
}

type Counterpart struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
}

// ConversationContext is built once when a conversation is opened or created
// and handed to the conversation view.
type ConversationContext struct {
	ConversationID int64       `json:"conversationId" validate:"required,gt=0"`
	TicketID       *int64      `json:"ticketId,omitempty"`
	OrderID        *int64      `json:"orderId,omitempty"`
	ProductID      *int64      `json:"productId,omitempty"`
	StoreID        *int64      `json:"storeId,omitempty"`
	Title          string      `json:"title,omitempty"`
	Counterpart    Counterpart `json:"counterpart"`
}

func (c Conversation) Context() ConversationContext {
	return ConversationContext{
		ConversationID: c.ID,
		TicketID:       c.TicketID,
		OrderID:        c.OrderID,
		ProductID:      c.ProductID,
		StoreID:        c.StoreID,
		Title:          c.Title,
		Counterpart: Counterpart{
			Username:  c.OtherPartyUsername,
			AvatarURL: c.OtherPartyAvatarURL,
		},
	}
}

func (r FindOrCreateResponse) Context(req FindOrCreateRequest) ConversationContext {
	id := r.ConversationID
	if id == 0 {
		id = r.ID
	}
	name := r.OtherPartyUsername
	if name == "" {
		name = r.SellerUsername
	}
	if name == "" {
		name = r.StoreName
	}
	avatar := r.OtherPartyAvatarURL
	if avatar == "" {
		avatar = r.StoreLogoURL
	}
	storeID := req.StoreID
	return ConversationContext{
		ConversationID: id,
		OrderID:        req.OrderID,
		ProductID:      req.ProductID,
		StoreID:        &storeID,
		Title:          r.Title,
		Counterpart:    Counterpart{Username: name, AvatarURL: avatar},
	}
}
