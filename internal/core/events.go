package core

// Event is the tagged union a session reports to its owner. Variants are
// closed: Ready, Message, MessageUpdate, Reaction, Fatal.
type Event interface {
	isEvent()
}

// ReadyEvent signals that a session finished its initial sync.
type ReadyEvent struct {
	SessionTag string
}

// MessageEvent carries a newly created normalized message.
type MessageEvent struct {
	Msg Message
}

// MessageUpdateEvent carries an edit to an existing message.
type MessageUpdateEvent struct {
	Msg Message
}

// ReactionEvent is a signed delta on one emoji of one message.
type ReactionEvent struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	GuildID   string `json:"guildId,omitempty"`
	EmojiID   string `json:"emojiId,omitempty"`
	EmojiName string `json:"emojiName"`
	Delta     int    `json:"delta"` // +1 add, -1 remove
}

// FatalEvent signals that a session exhausted its reconnect attempts and
// stopped. Emitted at most once per session lifetime.
type FatalEvent struct {
	SessionTag string
	Err        error
}

func (ReadyEvent) isEvent()         {}
func (MessageEvent) isEvent()       {}
func (MessageUpdateEvent) isEvent() {}
func (ReactionEvent) isEvent()      {}
func (FatalEvent) isEvent()         {}

// Handler receives events from a session or coordinator. Handlers must not
// block; slow consumers are expected to queue internally.
type Handler func(Event)
