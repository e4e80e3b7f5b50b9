package telegram

import (
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"github.com/gotd/td/tg"

	"github.com/ppiankov/feeder/internal/source"
)

type fileLocation struct {
	location tg.InputFileLocationClass
	ext      string
	size     int64
}

func channelInfo(ch *tg.Channel) source.TelegramChannel {
	return source.TelegramChannel{
		ID:       ch.ID,
		Title:    ch.Title,
		Username: ch.Username,
	}
}

// convertMessage maps a channel post. Posts outside channels are rejected.
func convertMessage(m *tg.Message) (source.TelegramMessage, map[int64]fileLocation, bool) {
	peer, ok := m.PeerID.(*tg.PeerChannel)
	if !ok {
		return source.TelegramMessage{}, nil, false
	}
	msg := source.TelegramMessage{
		ChatID: peer.ChannelID,
		ID:     int64(m.ID),
		Date:   time.Unix(int64(m.Date), 0).UTC(),
		Text:   m.Message,
	}

	var locs map[int64]fileLocation
	if m.Media != nil {
		if f, loc, ok := mediaFile(m.Media); ok {
			msg.Files = append(msg.Files, f)
			locs = map[int64]fileLocation{f.ID: loc}
		}
	}
	return msg, locs, true
}

func mediaFile(media tg.MessageMediaClass) (source.TelegramFile, fileLocation, bool) {
	switch media := media.(type) {
	case *tg.MessageMediaPhoto:
		p, ok := media.GetPhoto()
		if !ok {
			return source.TelegramFile{}, fileLocation{}, false
		}
		photo, ok := p.AsNotEmpty()
		if !ok {
			return source.TelegramFile{}, fileLocation{}, false
		}
		return photoFile(photo)
	case *tg.MessageMediaDocument:
		d, ok := media.GetDocument()
		if !ok {
			return source.TelegramFile{}, fileLocation{}, false
		}
		doc, ok := d.AsNotEmpty()
		if !ok {
			return source.TelegramFile{}, fileLocation{}, false
		}
		f, loc := documentFile(doc)
		return f, loc, true
	default:
		return source.TelegramFile{}, fileLocation{}, false
	}
}

// photoFile picks the largest size of a photo.
func photoFile(photo *tg.Photo) (source.TelegramFile, fileLocation, bool) {
	var (
		thumb      string
		w, h, size int
	)
	for _, s := range photo.Sizes {
		switch s := s.(type) {
		case *tg.PhotoSize:
			if s.W*s.H > w*h {
				thumb, w, h, size = s.Type, s.W, s.H, s.Size
			}
		case *tg.PhotoSizeProgressive:
			if s.W*s.H > w*h && len(s.Sizes) > 0 {
				thumb, w, h, size = s.Type, s.W, s.H, s.Sizes[len(s.Sizes)-1]
			}
		}
	}
	if thumb == "" {
		return source.TelegramFile{}, fileLocation{}, false
	}

	f := source.TelegramFile{
		ID:         photo.ID,
		Type:       source.FileImage,
		RemotePath: fmt.Sprintf("photo:%d", photo.ID),
		MimeType:   "image/jpeg",
		Size:       int64(size),
		Width:      w,
		Height:     h,
	}
	loc := fileLocation{
		location: &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     thumb,
		},
		ext:  ".jpg",
		size: int64(size),
	}
	return f, loc, true
}

func documentFile(doc *tg.Document) (source.TelegramFile, fileLocation) {
	f := source.TelegramFile{
		ID:         doc.ID,
		Type:       source.FileDocument,
		RemotePath: fmt.Sprintf("document:%d", doc.ID),
		MimeType:   doc.MimeType,
		Size:       doc.Size,
	}

	animated := false
	for _, attr := range doc.Attributes {
		switch attr := attr.(type) {
		case *tg.DocumentAttributeFilename:
			f.FileName = attr.FileName
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeVideo:
			f.Type = source.FileVideo
			f.Width, f.Height = attr.W, attr.H
			f.Duration = int(attr.Duration)
		case *tg.DocumentAttributeAudio:
			f.Type = source.FileAudio
			f.Duration = int(attr.Duration)
		case *tg.DocumentAttributeImageSize:
			f.Width, f.Height = attr.W, attr.H
		}
	}
	// GIFs carry both the video and the animated attribute.
	if animated {
		f.Type = source.FileAnimation
	}

	return f, fileLocation{
		location: &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		},
		ext:  documentExt(f.FileName, doc.MimeType),
		size: doc.Size,
	}
}

func documentExt(name, mimeType string) string {
	if ext := filepath.Ext(name); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
