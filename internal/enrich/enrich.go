package enrich

import (
	"sync"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
)

// Settings is the process-wide enrichment configuration, read at call time.
type Settings struct {
	ContractDetection bool
	HighlightedUsers  []string
	Keywords          []core.KeywordPattern
}

// RoomContext scopes enrichment to one room's configuration.
type RoomContext struct {
	HighlightedUsers []string
	Keywords         []core.KeywordPattern
}

// Directory resolves ids to display names; answers of "unknown" mean the id
// could not be resolved.
type Directory interface {
	ChannelName(channelID string) string
	RoleName(roleID string) string
}

// Pipeline annotates normalized messages. It is stateless with respect to
// the message; the only mutable state is the pattern-compile cache.
type Pipeline struct {
	settings func() Settings

	mu    sync.Mutex
	cache map[string]*compiledPattern
}

func New(settings func() Settings) *Pipeline {
	if settings == nil {
		settings = func() Settings { return Settings{} }
	}
	return &Pipeline{
		settings: settings,
		cache:    make(map[string]*compiledPattern),
	}
}

// Annotate produces the display-ready form of msg under the given room
// context (nil for no room scope).
func (p *Pipeline) Annotate(msg core.Message, room *RoomContext, dir Directory) core.EnrichedMessage {
	cfg := p.settings()

	out := core.EnrichedMessage{Message: msg}
	out.Highlighted = p.highlighted(cfg, msg.Author.ID, room)

	if cfg.ContractDetection {
		out.Contracts = DetectAddresses(msg.Text)
	}

	patterns := cfg.Keywords
	if room != nil && len(room.Keywords) > 0 {
		patterns = append(append([]core.KeywordPattern(nil), patterns...), room.Keywords...)
	}
	out.Keywords = p.MatchKeywords(msg.Text, patterns)

	out.Mentions = ResolveMentions(msg, dir)

	if msg.Reference != nil {
		out.ReplyText = replyPreview(*msg.Reference)
	}

	return out
}

// Highlighted reports whether the author is in the global highlighted set
// or, when a room context is given, that room's set.
func (p *Pipeline) Highlighted(authorID string, room *RoomContext) bool {
	return p.highlighted(p.settings(), authorID, room)
}

func (p *Pipeline) highlighted(cfg Settings, authorID string, room *RoomContext) bool {
	if authorID == "" {
		return false
	}
	for _, id := range cfg.HighlightedUsers {
		if id == authorID {
			return true
		}
	}
	if room != nil {
		for _, id := range room.HighlightedUsers {
			if id == authorID {
				return true
			}
		}
	}
	return false
}

func replyPreview(ref core.Reference) string {
	name := ref.Author.DisplayName
	if name == "" {
		name = ref.Author.Username
	}
	if name == "" {
		return ref.Text
	}
	return name + ": " + ref.Text
}
