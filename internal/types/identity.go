// Package types holds the wire-independent representation of archived
// media: FileIdentity carries everything the streamer needs to build a
// download location, decoupled from the Telegram message it was decoded
// from.
package types

import (
	"encoding/base64"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/gotd/td/tg"
)

// FileKind tags which media slot a FileIdentity was decoded from. For a
// document, kindFromAttributes picks video first, then voice, then audio,
// and falls back to a plain document.
type FileKind uint8

const (
	FileKindDocument FileKind = iota
	FileKindVideo
	FileKindAudio
	FileKindVoice
	FileKindPhoto
	FileKindChatPhoto
)

func (k FileKind) String() string {
	switch k {
	case FileKindVideo:
		return "video"
	case FileKindAudio:
		return "audio"
	case FileKindVoice:
		return "voice"
	case FileKindPhoto:
		return "photo"
	case FileKindChatPhoto:
		return "chat_photo"
	default:
		return "document"
	}
}

// FileIdentity is the tagged variant describing exactly one archived media
// item, independent of FileKind. Fields unused by a given kind are left at
// their zero value.
type FileIdentity struct {
	FileKind FileKind

	MediaID       uint64
	AccessHash    int64
	FileReference []byte
	DatacenterID  int

	FileSize uint64
	FileName string
	MimeType string
	UniqueID string

	ThumbSize string // documents/photos: size token passed to the file location

	// Populated only for FileKindChatPhoto.
	VolumeID        int64
	LocalID         int32
	OwnerPeerID     int64
	OwnerAccessHash int64
	Big             bool
}

var errNoMedia = errors.New("message carries no downloadable media")

// IdentityFromMessage decodes the FileIdentity carried by a Telegram
// message, selecting whichever media slot the message actually populates.
func IdentityFromMessage(msg *tg.Message) (*FileIdentity, error) {
	media, ok := msg.GetMedia()
	if !ok {
		return nil, errNoMedia
	}
	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.AsNotEmpty()
		if !ok {
			return nil, errNoMedia
		}
		kind, filename := kindFromAttributes(doc.Attributes)
		return &FileIdentity{
			FileKind:      kind,
			MediaID:       uint64(doc.ID),
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
			DatacenterID:  doc.DCID,
			FileSize:      uint64(doc.Size),
			FileName:      filename,
			MimeType:      doc.MimeType,
			UniqueID:      deriveUniqueID(kind, uint64(doc.ID), 0, 0),
		}, nil
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.AsNotEmpty()
		if !ok {
			return nil, errNoMedia
		}
		thumbSize, size := largestPhotoSize(photo.Sizes)
		return &FileIdentity{
			FileKind:      FileKindPhoto,
			MediaID:       uint64(photo.ID),
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			DatacenterID:  photo.DCID,
			FileSize:      uint64(size),
			FileName:      fmt.Sprintf("photo_%d.jpg", photo.ID),
			MimeType:      "image/jpeg",
			ThumbSize:     thumbSize,
			UniqueID:      deriveUniqueID(FileKindPhoto, uint64(photo.ID), 0, 0),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported media type %T", errNoMedia, media)
	}
}

// IntegrityPrefix returns the first 6 characters of the unique ID of the
// identity decoded from msg. It is used to confirm a token still names the
// media it was minted for.
func IntegrityPrefix(msg *tg.Message) (string, error) {
	identity, err := IdentityFromMessage(msg)
	if err != nil {
		return "", err
	}
	return identity.IntegrityPrefix(), nil
}

// IntegrityPrefix is the lightweight check value compared between the live
// message and the cached identity; it is stable across file_reference
// rotation since it never depends on AccessHash or FileReference.
func (f *FileIdentity) IntegrityPrefix() string {
	if len(f.UniqueID) < 6 {
		return f.UniqueID
	}
	return f.UniqueID[:6]
}

func kindFromAttributes(attrs []tg.DocumentAttributeClass) (FileKind, string) {
	var hasVideo, hasAudio, isVoice bool
	var filename string
	for _, a := range attrs {
		switch at := a.(type) {
		case *tg.DocumentAttributeVideo:
			hasVideo = true
		case *tg.DocumentAttributeAudio:
			hasAudio = true
			isVoice = at.Voice
		case *tg.DocumentAttributeFilename:
			filename = at.FileName
		}
	}
	switch {
	case hasVideo:
		return FileKindVideo, filename
	case hasAudio && isVoice:
		return FileKindVoice, filename
	case hasAudio:
		return FileKindAudio, filename
	default:
		return FileKindDocument, filename
	}
}

func largestPhotoSize(sizes []tg.PhotoSizeClass) (thumbType string, size int) {
	if len(sizes) == 0 {
		return "", 0
	}
	last := sizes[len(sizes)-1]
	switch s := last.(type) {
	case *tg.PhotoSize:
		return s.Type, s.Size
	case *tg.PhotoSizeProgressive:
		if n := len(s.Sizes); n > 0 {
			return s.Type, s.Sizes[n-1]
		}
		return s.Type, 0
	case *tg.PhotoCachedSize:
		return s.Type, len(s.Bytes)
	case *tg.PhotoStrippedSize:
		return s.Type, len(s.Bytes)
	default:
		return "", 0
	}
}

// deriveUniqueID builds a reference-independent identifier. gotd/td's raw tg
// types carry no equivalent of a client library's packed file_unique_id, so
// one is synthesized from fields that survive file_reference rotation.
func deriveUniqueID(kind FileKind, mediaID uint64, volumeID int64, localID int32) string {
	h := fnv.New64a()
	h.Write([]byte{byte(kind)})
	var buf [8]byte
	putUint64(buf[:], mediaID)
	h.Write(buf[:])
	putUint64(buf[:], uint64(volumeID))
	h.Write(buf[:])
	putUint64(buf[:4], uint64(uint32(localID)))
	h.Write(buf[:4])
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < len(b); i++ {
		b[i] = byte(v >> (8 * (len(b) - 1 - i)))
	}
}
