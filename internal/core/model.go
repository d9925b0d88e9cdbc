package core

// EventType discriminates the canonical event variants delivered to subscribers.
type EventType string

const (
	EventChat           EventType = "chat"
	EventGift           EventType = "gift"
	EventLike           EventType = "like"
	EventMember         EventType = "member"
	EventFollow         EventType = "follow"
	EventShare          EventType = "share"
	EventSubscribe      EventType = "subscribe"
	EventSuperFan       EventType = "superFan"
	EventRoomUser       EventType = "roomUser"
	EventHighLevelEntry EventType = "highLevelEntry"

	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventStreamEnd    EventType = "streamEnd"
)

// VIPLevel is the minimum badge level at which a viewer counts as high-level.
const VIPLevel = 20

// Event is the unified structure broadcast to subscribers, one JSON object per
// event with Type as the discriminator. Only the fields belonging to the
// variant are populated; the rest stay at their zero values and are omitted on
// the wire.
type Event struct {
	Type EventType `json:"type"`

	Nickname string `json:"nickname,omitempty"`
	Handle   string `json:"handle,omitempty"`
	UserID   string `json:"userId,omitempty"`
	Level    int    `json:"level,omitempty"`

	Comment string `json:"comment,omitempty"`

	GiftID       int    `json:"giftId,omitempty"`
	GiftName     string `json:"giftName,omitempty"`
	RepeatCount  int    `json:"repeatCount,omitempty"`
	DiamondCount int    `json:"diamondCount,omitempty"`

	LikeCount      int `json:"likeCount,omitempty"`
	TotalLikeCount int `json:"totalLikeCount,omitempty"`

	ViewerCount int `json:"viewerCount,omitempty"`

	IsVIP bool `json:"isVIP,omitempty"`

	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message,omitempty"`
}
