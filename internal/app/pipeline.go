package app

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/DanielHighETH/trenchcord-sub000/internal/core"
	"github.com/DanielHighETH/trenchcord-sub000/internal/enrich"
	"github.com/DanielHighETH/trenchcord-sub000/internal/ingesttrace"
	"github.com/DanielHighETH/trenchcord-sub000/internal/notify"
	"github.com/DanielHighETH/trenchcord-sub000/internal/store"
)

// traceEnabled turns on per-message pipeline traces, for chasing lost
// messages in development.
var traceEnabled = os.Getenv("TRENCHCORD_TRACE") == "1"

// onEvent is the single entry point for the merged session stream.
func (a *App) onEvent(ev core.Event) {
	switch ev := ev.(type) {
	case core.ReadyEvent:
		log.Printf("app: session %s ready", ev.SessionTag)
		go a.backfillRooms()
	case core.MessageEvent:
		a.handleMessage(ev.Msg, false)
	case core.MessageUpdateEvent:
		a.handleMessage(ev.Msg, true)
	case core.ReactionEvent:
		a.fanout.BroadcastReactionUpdate(ev)
	case core.FatalEvent:
		log.Printf("app: session %s failed permanently: %v", ev.SessionTag, ev.Err)
		a.notifier.Send(a.ctx(), notify.Notification{
			Title: "gateway session down",
			Body:  ev.SessionTag + ": " + ev.Err.Error(),
		})
	}
}

func (a *App) handleMessage(msg core.Message, update bool) {
	var trace *ingesttrace.MessageTrace
	if traceEnabled {
		trace = ingesttrace.NewTraceFromGatewayMessage("", msg.ChannelID, msg.Author.Username, snippet(msg.Text))
		defer trace.LogTrace(nil, "message pipeline")
	}

	rooms, err := a.store.Rooms()
	if err != nil {
		log.Printf("app: read rooms: %v", err)
	}

	roomIDs, roomCtx := matchRooms(rooms, msg)
	if trace != nil && len(roomIDs) == 0 {
		trace.IncCounter(ingesttrace.StageDropped("no_room"))
	}
	var dir enrich.Directory
	if coord := a.Coordinator(); coord != nil {
		dir = coord
	}
	enriched := a.pipeline.Annotate(msg, roomCtx, dir)
	if trace != nil {
		trace.IncCounter(ingesttrace.StageEnrichedOK)
	}

	if update {
		a.fanout.BroadcastMessageUpdate(enriched, roomIDs)
		return
	}

	for _, ca := range enriched.Contracts {
		entry := core.ContractEntry{
			Address:   enrich.NormalizeAddress(ca.Address, ca.Chain),
			Chain:     ca.Chain,
			Author:    msg.Author,
			ChannelID: msg.ChannelID,
			GuildID:   msg.GuildID,
			RoomIDs:   roomIDs,
			MessageID: msg.ID,
			Timestamp: msg.Timestamp,
		}
		stored, err := a.ledger.Record(entry)
		if err != nil {
			log.Printf("app: record contract %s: %v", entry.Address, err)
			continue
		}
		if stored.FirstSeen {
			a.fanout.BroadcastContract(stored)
		}
	}

	a.fanout.BroadcastMessage(enriched, roomIDs)
	if trace != nil {
		trace.IncCounter(ingesttrace.StageBroadcast)
	}

	if enriched.Highlighted {
		a.fanout.BroadcastAlert(enriched)
		a.notifier.Send(a.ctx(), notify.Notification{
			Title: enriched.Author.Username + " in #" + enriched.ChannelName,
			Body:  enriched.Text,
		})
	}
}

// matchRooms returns the ids of every room that relays this message plus a
// context merging their highlight and keyword configuration. A room with
// filtering enabled only relays its filtered users.
func matchRooms(rooms []store.Room, msg core.Message) ([]string, *enrich.RoomContext) {
	var (
		ids []string
		ctx *enrich.RoomContext
	)
	for _, room := range rooms {
		if !containsString(room.Channels, msg.ChannelID) {
			continue
		}
		if ctx == nil {
			ctx = &enrich.RoomContext{}
		}
		ctx.HighlightedUsers = append(ctx.HighlightedUsers, room.HighlightedUsers...)
		ctx.Keywords = append(ctx.Keywords, room.Keywords...)

		if room.FilterEnabled && !containsString(room.FilteredUsers, msg.Author.ID) {
			continue
		}
		ids = append(ids, room.ID)
	}
	return ids, ctx
}

func snippet(text string) string {
	const max = 48
	if len(text) <= max {
		return text
	}
	return text[:max]
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// backfillRooms warms recent history for every channel referenced by a room.
func (a *App) backfillRooms() {
	coord := a.Coordinator()
	if coord == nil {
		return
	}
	rooms, err := a.store.Rooms()
	if err != nil {
		log.Printf("app: read rooms for backfill: %v", err)
		return
	}
	seen := make(map[string]bool)
	var channelIDs []string
	for _, room := range rooms {
		for _, ch := range room.Channels {
			if !seen[ch] {
				seen[ch] = true
				channelIDs = append(channelIDs, ch)
			}
		}
	}
	if len(channelIDs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(a.ctx(), 2*time.Minute)
	defer cancel()
	histories := coord.BackfillHistory(ctx, channelIDs, backfillLimit)
	total := 0
	for _, msgs := range histories {
		total += len(msgs)
	}
	log.Printf("app: backfilled %d message(s) across %d channel(s)", total, len(channelIDs))
}
