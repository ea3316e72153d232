package bot

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/constant"
	"github.com/gotd/td/tg"
)

// FetchMessage resolves archiveID to a channel peer and fetches messageID
// out of it, satisfying properties.MessageFetcher. It is always issued
// against the worker's own connection: channel resolution relies on the
// worker's peer storage, not on a media session.
func (w *Worker) FetchMessage(ctx context.Context, archiveID int64, messageID int) (*tg.Message, error) {
	channel, err := w.resolveChannel(ctx, archiveID)
	if err != nil {
		return nil, fmt.Errorf("resolve archive channel: %w", err)
	}
	res, err := w.Client.API().ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
		Channel: channel,
		ID:      []tg.InputMessageClass{&tg.InputMessageID{ID: messageID}},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch message %d: %w", messageID, err)
	}
	messages, ok := res.(*tg.MessagesChannelMessages)
	if !ok || len(messages.Messages) == 0 {
		return nil, fmt.Errorf("message %d not found", messageID)
	}
	msg, ok := messages.Messages[0].(*tg.Message)
	if !ok {
		return nil, fmt.Errorf("message %d was deleted or is inaccessible", messageID)
	}
	return msg, nil
}

func (w *Worker) resolveChannel(ctx context.Context, archiveID int64) (*tg.InputChannel, error) {
	botAPIID := toBotAPIChannelID(archiveID)
	switch peer := w.Client.PeerStorage.GetInputPeerById(botAPIID).(type) {
	case *tg.InputPeerChannel:
		return &tg.InputChannel{ChannelID: peer.ChannelID, AccessHash: peer.AccessHash}, nil
	}

	res, err := w.Client.API().ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: archiveID}})
	if err != nil {
		return nil, err
	}
	chats := res.GetChats()
	if len(chats) == 0 {
		return nil, fmt.Errorf("channel %d not found", archiveID)
	}
	channel, ok := chats[0].(*tg.Channel)
	if !ok {
		return nil, fmt.Errorf("peer %d is not a channel", archiveID)
	}
	w.Client.PeerStorage.AddPeer(channel.GetID(), channel.AccessHash, storage.TypeChannel, channel.Username)
	return channel.AsInput(), nil
}

// toBotAPIChannelID converts a raw channel ID into the signed, "-100"
// prefixed form the peer storage indexes peers by.
func toBotAPIChannelID(rawChannelID int64) int64 {
	var id constant.TDLibPeerID
	id.Channel(rawChannelID)
	return int64(id)
}
