package core

import "time"

// Identity is a platform user as it appears in payloads and directories.
type Identity struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// ChannelInfo is one text-capable channel inside a guild.
type ChannelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type int    `json:"type"`
}

// GuildInfo is the directory entry for a guild. Channels may arrive
// incrementally; a populated list is never replaced by an empty one.
type GuildInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Icon     string        `json:"icon,omitempty"`
	Channels []ChannelInfo `json:"channels"`
}

// DMChannel is a direct-message channel and its recipients.
type DMChannel struct {
	ID         string     `json:"id"`
	Recipients []Identity `json:"recipients"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Reaction is an aggregated emoji count on a message.
type Reaction struct {
	EmojiID   string `json:"emojiId,omitempty"`
	EmojiName string `json:"emojiName"`
	Count     int    `json:"count"`
}

// Reference is the parent of a reply.
type Reference struct {
	MessageID string            `json:"messageId"`
	Author    Identity          `json:"author"`
	Text      string            `json:"text"`
	Mentions  map[string]string `json:"mentions,omitempty"`
}

// Message is the normalized shape emitted by a session after directory
// resolution, before enrichment.
type Message struct {
	ID          string            `json:"id"`
	ChannelID   string            `json:"channelId"`
	GuildID     string            `json:"guildId,omitempty"`
	ChannelName string            `json:"channelName"`
	GuildName   string            `json:"guildName,omitempty"`
	Author      Identity          `json:"author"`
	Text        string            `json:"text"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Embeds      []map[string]any  `json:"embeds,omitempty"`
	Mentions    map[string]string `json:"mentions,omitempty"`
	Reactions   []Reaction        `json:"reactions,omitempty"`
	Reference   *Reference        `json:"reference,omitempty"`
}

// ContractAddress is one detected address with its chain classification.
type ContractAddress struct {
	Address string `json:"address"`
	Chain   string `json:"chain"` // "eth" | "sol"
}

// EnrichedMessage is a Message annotated for display.
type EnrichedMessage struct {
	Message
	Highlighted bool              `json:"highlighted"`
	Contracts   []ContractAddress `json:"contracts,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	ReplyText   string            `json:"replyText,omitempty"`
}

// ContractEntry is one row of the append-only contract ledger.
type ContractEntry struct {
	Address   string    `json:"address"`
	Chain     string    `json:"chain"`
	ChainTag  string    `json:"chainTag,omitempty"` // chain-specific sub-tag, set lazily
	Author    Identity  `json:"author"`
	ChannelID string    `json:"channelId"`
	GuildID   string    `json:"guildId,omitempty"`
	RoomIDs   []string  `json:"roomIds,omitempty"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	FirstSeen bool      `json:"firstSeen"`
}

// KeywordPattern is one configured keyword matcher. MatchMode is one of
// "includes", "exact", or "regex".
type KeywordPattern struct {
	Pattern   string `json:"pattern"`
	Label     string `json:"label,omitempty"`
	MatchMode string `json:"matchMode"`
}
