// Package telegram adapts a gotd MTProto user client to the port used by the
// Telegram provider.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/patrickmn/go-cache"
	"golang.org/x/term"

	"github.com/ppiankov/feeder/internal/source"
)

// ErrUnknownPeer is returned for channels the client has not seen yet.
var ErrUnknownPeer = errors.New("telegram: unknown channel")

const (
	peerTTL     = 24 * time.Hour
	fileTTL     = 6 * time.Hour
	warmupLimit = 100
)

type Config struct {
	APIID      int
	APIHash    string
	Phone      string
	SessionDir string
}

// Client is a gotd client with channel and file location caches.
type Client struct {
	tg         *telegram.Client
	flow       auth.Flow
	downloader *downloader.Downloader
	log        *slog.Logger

	// peers maps channel id to *tg.Channel; files maps file id to fileLocation.
	peers *cache.Cache
	files *cache.Cache

	mu      sync.RWMutex
	handler func(context.Context, source.TelegramMessage)
}

var _ source.TelegramClient = (*Client)(nil)

func New(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.APIID == 0 || cfg.APIHash == "" {
		return nil, errors.New("telegram: api id and hash are required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	c := &Client{
		flow:       auth.NewFlow(NewTerminal(cfg.Phone), auth.SendCodeOptions{}),
		downloader: downloader.NewDownloader(),
		log:        log.With("component", "telegram"),
		peers:      cache.New(peerTTL, time.Hour),
		files:      cache.New(fileTTL, time.Hour),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(c.onNewChannelMessage)

	c.tg = telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: filepath.Join(cfg.SessionDir, "session.json")},
		UpdateHandler:  dispatcher,
	})
	return c, nil
}

// Run connects, authorizes and calls f while the connection is up.
func (c *Client) Run(ctx context.Context, f func(ctx context.Context) error) error {
	return c.tg.Run(ctx, func(ctx context.Context) error {
		if err := c.authorize(ctx); err != nil {
			return err
		}
		if _, err := c.Channels(ctx, warmupLimit); err != nil {
			c.log.Warn("warm up channel cache", "error", err)
		}
		c.log.Info("telegram client ready")
		return f(ctx)
	})
}

func (c *Client) authorize(ctx context.Context) error {
	status, err := c.tg.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if status.Authorized {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("telegram session is not authorized and stdin is not a terminal")
	}
	c.log.Warn("telegram session not authorized, starting interactive login")
	if err := c.flow.Run(ctx, c.tg.Auth()); err != nil {
		return fmt.Errorf("interactive auth: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(handler func(context.Context, source.TelegramMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

func (c *Client) onNewChannelMessage(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
	for _, ch := range e.Channels {
		c.remember(ch)
	}
	msg, ok := u.Message.(*tg.Message)
	if !ok {
		return nil
	}
	converted, locs, ok := convertMessage(msg)
	if !ok {
		return nil
	}
	c.rememberFiles(locs)

	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(ctx, converted)
	}
	return nil
}

func (c *Client) remember(ch *tg.Channel) {
	c.peers.Set(strconv.FormatInt(ch.ID, 10), ch, cache.DefaultExpiration)
}

func (c *Client) rememberChats(chats []tg.ChatClass) []source.TelegramChannel {
	var out []source.TelegramChannel
	for _, chat := range chats {
		ch, ok := chat.(*tg.Channel)
		if !ok {
			continue
		}
		c.remember(ch)
		out = append(out, channelInfo(ch))
	}
	return out
}

func (c *Client) rememberFiles(locs map[int64]fileLocation) {
	for id, loc := range locs {
		c.files.Set(strconv.FormatInt(id, 10), loc, cache.DefaultExpiration)
	}
}

func (c *Client) channel(chatID int64) (*tg.Channel, error) {
	v, ok := c.peers.Get(strconv.FormatInt(chatID, 10))
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPeer, chatID)
	}
	return v.(*tg.Channel), nil
}

func (c *Client) JoinChannel(ctx context.Context, chatID int64) error {
	ch, err := c.channel(chatID)
	if err != nil {
		return err
	}
	if _, err := c.tg.API().ChannelsJoinChannel(ctx, ch.AsInput()); err != nil {
		return c.wrap("join channel", err)
	}
	return nil
}

// GetChannel reports false for channels that are neither cached nor among
// the dialogs.
func (c *Client) GetChannel(ctx context.Context, chatID int64) (source.TelegramChannel, bool, error) {
	if ch, err := c.channel(chatID); err == nil {
		return channelInfo(ch), true, nil
	}
	if _, err := c.Channels(ctx, warmupLimit); err != nil {
		return source.TelegramChannel{}, false, err
	}
	ch, err := c.channel(chatID)
	if err != nil {
		return source.TelegramChannel{}, false, nil
	}
	return channelInfo(ch), true, nil
}

func (c *Client) MessageLink(ctx context.Context, chatID, messageID int64) (string, error) {
	ch, err := c.channel(chatID)
	if err != nil {
		return "", err
	}
	link, err := c.tg.API().ChannelsExportMessageLink(ctx, &tg.ChannelsExportMessageLinkRequest{
		Channel: ch.AsInput(),
		ID:      int(messageID),
	})
	if err != nil {
		return "", c.wrap("export message link", err)
	}
	return link.Link, nil
}

func (c *Client) SearchChannels(ctx context.Context, query string, limit int) ([]source.TelegramChannel, error) {
	found, err := c.tg.API().ContactsSearch(ctx, &tg.ContactsSearchRequest{Q: query, Limit: limit})
	if err != nil {
		return nil, c.wrap("search", err)
	}
	return c.rememberChats(found.Chats), nil
}

// Channels lists the channels among the first limit dialogs.
func (c *Client) Channels(ctx context.Context, limit int) ([]source.TelegramChannel, error) {
	res, err := c.tg.API().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      limit,
	})
	if err != nil {
		return nil, c.wrap("get dialogs", err)
	}
	dialogs, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	return c.rememberChats(dialogs.GetChats()), nil
}

func (c *Client) History(ctx context.Context, chatID, anchor int64, limit int) ([]source.TelegramMessage, error) {
	ch, err := c.channel(chatID)
	if err != nil {
		return nil, err
	}
	offset := int(anchor)
	if anchor >= math.MaxInt32 {
		offset = 0
	}
	res, err := c.tg.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:     ch.AsInputPeer(),
		OffsetID: offset,
		Limit:    limit,
	})
	if err != nil {
		return nil, c.wrap("get history", err)
	}
	page, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	c.rememberChats(page.GetChats())

	out := make([]source.TelegramMessage, 0, len(page.GetMessages()))
	for _, m := range page.GetMessages() {
		switch m := m.(type) {
		case *tg.Message:
			msg, locs, ok := convertMessage(m)
			if !ok {
				continue
			}
			c.rememberFiles(locs)
			out = append(out, msg)
		case *tg.MessageService:
			// Kept so the caller's anchor moves past it.
			out = append(out, source.TelegramMessage{
				ChatID: chatID,
				ID:     int64(m.ID),
				Date:   time.Unix(int64(m.Date), 0).UTC(),
			})
		}
	}
	return out, nil
}

// Download stores the file under dir with a random name.
func (c *Client) Download(ctx context.Context, fileID int64, dir string) (string, error) {
	v, ok := c.files.Get(strconv.FormatInt(fileID, 10))
	if !ok {
		return "", fmt.Errorf("telegram: no location for file %d", fileID)
	}
	loc := v.(fileLocation)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+loc.ext)

	start := time.Now()
	if _, err := c.downloader.Download(c.tg.API(), loc.location).ToPath(ctx, path); err != nil {
		_ = os.Remove(path)
		return "", c.wrap("download", err)
	}
	c.log.Debug("file downloaded",
		"file", fileID,
		"size", humanize.Bytes(uint64(max(loc.size, 0))),
		"took", time.Since(start).Round(time.Millisecond),
	)
	return path, nil
}

func (c *Client) wrap(op string, err error) error {
	if d, ok := tgerr.AsFloodWait(err); ok {
		c.log.Warn("telegram flood wait", "op", op, "wait", d)
	}
	return fmt.Errorf("%s: %w", op, err)
}
