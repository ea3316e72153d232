package stream

import (
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/silverlynx/tgfilelink/internal/types"
)

// channelIDMarker is the offset raw channel IDs are shifted by when they
// appear inside a signed peer/chat ID (the "-100..." convention).
const channelIDMarker = 1000000000000

// LocationFor builds the upload.getFile location for a FileIdentity,
// branching on FileKind exactly as the original media-download logic does.
func LocationFor(identity *types.FileIdentity) (tg.InputFileLocationClass, error) {
	switch identity.FileKind {
	case types.FileKindDocument, types.FileKindVideo, types.FileKindAudio, types.FileKindVoice:
		return &tg.InputDocumentFileLocation{
			ID:            int64(identity.MediaID),
			AccessHash:    identity.AccessHash,
			FileReference: identity.FileReference,
			ThumbSize:     identity.ThumbSize,
		}, nil
	case types.FileKindPhoto:
		return &tg.InputPhotoFileLocation{
			ID:            int64(identity.MediaID),
			AccessHash:    identity.AccessHash,
			FileReference: identity.FileReference,
			ThumbSize:     identity.ThumbSize,
		}, nil
	case types.FileKindChatPhoto:
		peer := peerForChatPhoto(identity)
		return &tg.InputPeerPhotoFileLocation{
			Peer:     peer,
			VolumeID: identity.VolumeID,
			LocalID:  identity.LocalID,
			Big:      identity.Big,
		}, nil
	default:
		return nil, fmt.Errorf("stream: unknown file kind %v", identity.FileKind)
	}
}

// peerForChatPhoto chooses the InputPeer variant by the sign and access hash
// of the owning peer, mirroring how the chat-platform SDKs pick between
// user, basic group, and channel/supergroup peers.
func peerForChatPhoto(identity *types.FileIdentity) tg.InputPeerClass {
	peerID := identity.OwnerPeerID
	switch {
	case peerID > 0:
		return &tg.InputPeerUser{UserID: peerID, AccessHash: identity.OwnerAccessHash}
	case identity.OwnerAccessHash == 0:
		return &tg.InputPeerChat{ChatID: -peerID}
	default:
		return &tg.InputPeerChannel{
			ChannelID:  -peerID - channelIDMarker,
			AccessHash: identity.OwnerAccessHash,
		}
	}
}
