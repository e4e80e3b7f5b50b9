package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ppiankov/feeder/internal/download"
	"github.com/ppiankov/feeder/internal/history"
	"github.com/ppiankov/feeder/internal/metrics"
	"github.com/ppiankov/feeder/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// listenerBuffer bounds the queue between the Telegram client callbacks
	// and the listener goroutine.
	listenerBuffer     = 2000
	searchLimit        = 20
	syncChannelLimit   = 1000
	defaultFilesSubdir = "files"
)

type FileType int

const (
	FileImage FileType = iota + 1
	FileDocument
	FileAnimation
	FileAudio
	FileVideo
)

func (t FileType) String() string {
	switch t {
	case FileImage:
		return store.FileTypeImage
	case FileDocument:
		return store.FileTypeDocument
	case FileAnimation:
		return store.FileTypeAnimation
	case FileAudio:
		return "AUDIO"
	case FileVideo:
		return "VIDEO"
	default:
		return "UNKNOWN"
	}
}

// downloadable reports whether files of this type are fetched to disk.
func (t FileType) downloadable() bool {
	switch t {
	case FileImage, FileDocument, FileAnimation:
		return true
	default:
		return false
	}
}

// TelegramFile is an attachment of a channel message. ID is the key the
// client downloads it by.
type TelegramFile struct {
	ID         int64
	Type       FileType
	RemotePath string
	FileName   string
	MimeType   string
	Size       int64
	Width      int
	Height     int
	Duration   int
}

type TelegramMessage struct {
	ChatID int64
	ID     int64
	Date   time.Time
	Text   string
	Files  []TelegramFile
}

type TelegramChannel struct {
	ID       int64
	Title    string
	Username string
	Photo    string
}

// empty reports a message with nothing to store, such as a service message.
func (m TelegramMessage) empty() bool {
	return m.Text == "" && len(m.Files) == 0
}

// DownloadedFile reports a finished transfer. Err is set when it failed.
type DownloadedFile struct {
	ID   int64
	Path string
	Err  error
}

// TelegramUpdate holds either a new channel message or a download completion.
type TelegramUpdate struct {
	Message        *TelegramMessage
	FileDownloaded *DownloadedFile
}

// TelegramClient is the subset of the MTProto client the provider needs.
type TelegramClient interface {
	// Subscribe registers the handler for new channel messages.
	Subscribe(handler func(ctx context.Context, msg TelegramMessage))
	JoinChannel(ctx context.Context, chatID int64) error
	GetChannel(ctx context.Context, chatID int64) (TelegramChannel, bool, error)
	MessageLink(ctx context.Context, chatID, messageID int64) (string, error)
	SearchChannels(ctx context.Context, query string, limit int) ([]TelegramChannel, error)
	Channels(ctx context.Context, limit int) ([]TelegramChannel, error)
	// History returns up to limit messages older than anchor, newest first.
	History(ctx context.Context, chatID, anchor int64, limit int) ([]TelegramMessage, error)
	// Download stores the file in dir and returns its path.
	Download(ctx context.Context, fileID int64, dir string) (string, error)
}

type TelegramOptions struct {
	// FilesDirectory receives finished downloads.
	FilesDirectory string
	// DownloadDirectory holds transfers in progress. Defaults to a
	// subdirectory of FilesDirectory.
	DownloadDirectory        string
	MaxDownloadQueueSize     int
	LogDownloadStateInterval time.Duration
	Logger                   *slog.Logger
	Metrics                  *metrics.Metrics
	Redactor                 Redactor
}

// TelegramProvider ingests channel messages and their files.
type TelegramProvider struct {
	client        TelegramClient
	storage       Storage
	queue         *download.Queue
	filesDir      string
	downloadDir   string
	logStateEvery time.Duration
	log           *slog.Logger
	metrics       *metrics.Metrics
	redact        Redactor

	events chan TelegramUpdate
	state  atomic.Int32

	mu       sync.Mutex
	lifetime context.Context
}

func NewTelegram(client TelegramClient, storage Storage, opts TelegramOptions) (*TelegramProvider, error) {
	if client == nil {
		return nil, errors.New("telegram: client is required")
	}
	if opts.FilesDirectory == "" {
		opts.FilesDirectory = defaultFilesSubdir
	}
	if opts.DownloadDirectory == "" {
		opts.DownloadDirectory = filepath.Join(opts.FilesDirectory, ".partial")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Redactor == nil {
		opts.Redactor = noRedact{}
	}
	return &TelegramProvider{
		client:        client,
		storage:       storage,
		queue:         download.NewQueue(opts.MaxDownloadQueueSize),
		filesDir:      opts.FilesDirectory,
		downloadDir:   opts.DownloadDirectory,
		logStateEvery: opts.LogDownloadStateInterval,
		log:           opts.Logger.With("provider", KindTelegram.String()),
		metrics:       opts.Metrics,
		redact:        opts.Redactor,
		events:        make(chan TelegramUpdate, listenerBuffer),
	}, nil
}

func (p *TelegramProvider) Kind() Kind {
	return KindTelegram
}

// State reports the listener lifecycle. Closed is terminal.
func (p *TelegramProvider) State() State {
	return State(p.state.Load())
}

// Run starts the listener. It can only be started once.
func (p *TelegramProvider) Run(ctx context.Context, sink chan<- Envelope) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateListening)) {
		p.log.Warn("listener already started", "state", p.State())
		return
	}

	p.mu.Lock()
	p.lifetime = ctx
	p.mu.Unlock()

	p.client.Subscribe(func(_ context.Context, msg TelegramMessage) {
		p.enqueue(TelegramUpdate{Message: &msg})
	})
	p.queue.LogStateEvery(ctx, p.logStateEvery, p.log)

	go p.listen(ctx, sink)
}

func (p *TelegramProvider) listen(ctx context.Context, sink chan<- Envelope) {
	defer p.state.Store(int32(StateClosed))

	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-p.events:
			if f := upd.FileDownloaded; f != nil {
				if !p.queue.IsInProgress(f.ID) {
					p.log.Warn("completion for a file not in progress", "file", f.ID)
					continue
				}
				// The slot is released before the aggregator sees the file.
				p.completeDownload(f.ID)
				if f.Err != nil {
					p.log.Warn("file download failed", "file", f.ID, "error", f.Err)
					continue
				}
			}
			if !send(ctx, sink, Envelope{Telegram: &upd}) {
				return
			}
		}
	}
}

func (p *TelegramProvider) enqueue(upd TelegramUpdate) {
	ctx := p.runContext()
	if ctx == nil || p.State() != StateListening {
		p.log.Debug("listener not running, update dropped")
		return
	}
	select {
	case p.events <- upd:
	case <-ctx.Done():
	}
}

func (p *TelegramProvider) runContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lifetime
}

func (p *TelegramProvider) admitDownload(id int64) {
	if p.State() != StateListening {
		p.log.Debug("listener not running, download left pending", "file", id)
		return
	}
	if p.queue.IsInProgress(id) || slices.Contains(p.queue.Waiting(), id) {
		p.log.Debug("file already queued", "file", id)
		return
	}
	if p.queue.MayAdmit(id) {
		p.startTransfer(id)
	}
	p.reportQueue()
}

func (p *TelegramProvider) completeDownload(id int64) {
	if next, ok := p.queue.CompleteAndPromote(id); ok {
		p.startTransfer(next)
	}
	p.reportQueue()
}

func (p *TelegramProvider) startTransfer(id int64) {
	ctx := p.runContext()
	go func() {
		path, err := p.client.Download(ctx, id, p.downloadDir)
		p.enqueue(TelegramUpdate{FileDownloaded: &DownloadedFile{ID: id, Path: path, Err: err}})
	}()
}

func (p *TelegramProvider) reportQueue() {
	p.metrics.SetDownloads(len(p.queue.InProgress()), len(p.queue.Waiting()))
}

func (p *TelegramProvider) Process(ctx context.Context, env Envelope) (int, error) {
	upd := env.Telegram
	switch {
	case upd == nil:
		return 0, fmt.Errorf("telegram provider got %s update: %w", env.Kind(), ErrUpdateNotSupported)
	case upd.FileDownloaded != nil:
		if err := p.handleFileDownloaded(ctx, upd.FileDownloaded); err != nil {
			return 0, err
		}
		return 1, nil
	case upd.Message != nil:
		return p.processMessage(ctx, *upd.Message)
	default:
		return 0, fmt.Errorf("empty telegram update: %w", ErrUpdateNotSupported)
	}
}

func (p *TelegramProvider) processMessage(ctx context.Context, msg TelegramMessage) (int, error) {
	if msg.empty() {
		p.log.Debug("message without text or files skipped", "chat", msg.ChatID, "message", msg.ID)
		return 0, nil
	}
	src, err := p.resolveSource(ctx, msg.ChatID)
	if err != nil {
		return 0, err
	}

	created, err := p.storage.SaveRecords(ctx, []store.NewRecord{p.newRecord(src.ID, msg)})
	if err != nil {
		return 0, storageErr("save record", err)
	}
	if len(created) == 0 {
		if len(msg.Files) > 0 {
			p.log.Debug("record is not new, files skipped", "chat", msg.ChatID, "message", msg.ID)
		}
		return 0, nil
	}

	if len(msg.Files) > 0 {
		if err := p.handleNewFiles(ctx, msg.Files, created[0].ID); err != nil {
			p.log.Error("handle message files", "chat", msg.ChatID, "message", msg.ID, "error", err)
		}
	}
	return p.enrich(ctx, msg.ChatID, msg.ID, created)
}

// enrich stores the permanent message link of a freshly inserted record.
func (p *TelegramProvider) enrich(ctx context.Context, chatID, messageID int64, created []store.Record) (int, error) {
	switch len(created) {
	case 0:
		return 0, nil
	case 1:
	default:
		p.log.Warn("exactly one record must be created", "created", len(created))
		return 0, fmt.Errorf("message %d produced %d records: %w", messageID, len(created), ErrSourceCreation)
	}

	link, err := p.client.MessageLink(ctx, chatID, messageID)
	if err != nil {
		return 0, transportErr("export message link", err)
	}
	rec := created[0]
	if _, err := p.storage.SetRecordExternalLink(ctx, rec.SourceID, rec.SourceRecordID, link); err != nil {
		return 0, storageErr("set external link", err)
	}
	return 1, nil
}

func (p *TelegramProvider) newRecord(sourceID int64, msg TelegramMessage) store.NewRecord {
	return store.NewRecord{
		SourceRecordID: strconv.FormatInt(msg.ID, 10),
		SourceID:       sourceID,
		Content:        p.redact.Redact(msg.Text),
		Date:           msg.Date,
	}
}

func (p *TelegramProvider) resolveSource(ctx context.Context, chatID int64) (store.Source, error) {
	src, ok, err := p.storage.GetExactSource(ctx, KindTelegram.String(), strconv.FormatInt(chatID, 10))
	if err != nil {
		return store.Source{}, storageErr("get source", err)
	}
	if ok {
		return src, nil
	}
	return p.createSource(ctx, chatID)
}

// createSource joins the channel before reading its metadata.
func (p *TelegramProvider) createSource(ctx context.Context, chatID int64) (store.Source, error) {
	if err := p.client.JoinChannel(ctx, chatID); err != nil {
		return store.Source{}, transportErr("join channel", err)
	}
	ch, ok, err := p.client.GetChannel(ctx, chatID)
	if err != nil {
		return store.Source{}, transportErr("get channel", err)
	}
	if !ok {
		return store.Source{}, fmt.Errorf("channel %d: %w", chatID, ErrSourceNotFound)
	}

	saved, err := p.storage.SaveSources(ctx, []store.NewSource{newTelegramSource(ch)})
	if err != nil {
		return store.Source{}, storageErr("create source", err)
	}
	if len(saved) == 0 {
		return store.Source{}, fmt.Errorf("channel %d: %w", chatID, ErrSourceCreation)
	}
	return saved[0], nil
}

func newTelegramSource(ch TelegramChannel) store.NewSource {
	link := ""
	if ch.Username != "" {
		link = "https://t.me/" + ch.Username
	}
	return store.NewSource{
		Name:         ch.Title,
		Origin:       strconv.FormatInt(ch.ID, 10),
		Kind:         KindTelegram.String(),
		Image:        ch.Photo,
		ExternalLink: link,
	}
}

// handleNewFiles stores the downloadable attachments of a record and queues
// their transfers.
func (p *TelegramProvider) handleNewFiles(ctx context.Context, files []TelegramFile, recordID int64) error {
	rows := make([]store.NewFile, 0, len(files))
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		if !f.Type.downloadable() {
			continue
		}
		rows = append(rows, store.NewFile{
			RecordID:   recordID,
			Kind:       store.FileKindTelegram,
			RemotePath: f.RemotePath,
			RemoteID:   strconv.FormatInt(f.ID, 10),
			FileName:   f.FileName,
			Type:       f.Type.String(),
			Meta:       fileMeta(f),
		})
		ids = append(ids, f.ID)
	}
	if len(rows) == 0 {
		return nil
	}

	if err := p.storage.SaveFiles(ctx, rows); err != nil {
		return storageErr("save files", err)
	}
	for _, id := range ids {
		p.admitDownload(id)
	}
	return nil
}

type fileMetadata struct {
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

func fileMeta(f TelegramFile) string {
	if f.Type == FileDocument {
		return ""
	}
	b, err := json.Marshal(fileMetadata{
		MimeType: f.MimeType,
		Size:     f.Size,
		Width:    f.Width,
		Height:   f.Height,
		Duration: f.Duration,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

// handleFileDownloaded moves a finished transfer into the files directory
// and records its location.
func (p *TelegramProvider) handleFileDownloaded(ctx context.Context, f *DownloadedFile) error {
	row, ok, err := p.storage.GetFileByRemoteID(ctx, strconv.FormatInt(f.ID, 10))
	if err != nil {
		return storageErr("get file", err)
	}
	if !ok {
		p.log.Warn("unknown telegram file", "file", f.ID, "path", f.Path)
		return nil
	}

	if err := os.MkdirAll(p.filesDir, 0o755); err != nil {
		return ioErr("create files directory", err)
	}
	name := filepath.Base(f.Path)
	dst := filepath.Join(p.filesDir, name)
	if err := os.Rename(f.Path, dst); err != nil {
		return ioErr("move downloaded file", err)
	}

	row.LocalPath = dst
	if row.FileName == "" {
		row.FileName = name
	}
	if err := p.storage.SaveFile(ctx, row); err != nil {
		return storageErr("save file", err)
	}
	return nil
}

func (p *TelegramProvider) Search(ctx context.Context, query string) ([]store.Source, error) {
	channels, err := p.client.SearchChannels(ctx, query, searchLimit)
	if err != nil {
		return nil, transportErr("search channels", err)
	}

	var sources []store.Source
	for _, ch := range channels {
		saved, err := p.storage.SaveSources(ctx, []store.NewSource{newTelegramSource(ch)})
		if err != nil {
			p.log.Error("save found channel", "channel", ch.ID, "error", err)
			continue
		}
		sources = append(sources, saved...)
	}
	return sources, nil
}

// Synchronize walks the history of every joined channel back to depth.
func (p *TelegramProvider) Synchronize(ctx context.Context, depth time.Duration) error {
	channels, err := p.client.Channels(ctx, syncChannelLimit)
	if err != nil {
		return transportErr("list channels", err)
	}
	p.log.Debug("channels to sync", "count", len(channels))

	until := time.Now().Add(-depth)
	for _, ch := range channels {
		if err := p.syncChannel(ctx, ch, until); err != nil {
			return err
		}
	}
	return nil
}

func (p *TelegramProvider) syncChannel(ctx context.Context, ch TelegramChannel, until time.Time) error {
	saved, err := p.storage.SaveSources(ctx, []store.NewSource{newTelegramSource(ch)})
	if err != nil {
		return storageErr("save source", err)
	}
	if len(saved) == 0 {
		return fmt.Errorf("channel %d: %w", ch.ID, ErrSourceCreation)
	}
	src := saved[0]

	fetch := history.FetcherFunc[TelegramMessage](func(ctx context.Context, anchor int64, limit int) ([]TelegramMessage, error) {
		return p.client.History(ctx, ch.ID, anchor, limit)
	})
	cursor := history.NewCursor(fetch, until,
		func(m TelegramMessage) int64 { return m.ID },
		func(m TelegramMessage) time.Time { return m.Date },
	)

	var records []store.NewRecord
	filesByRecord := make(map[string][]TelegramFile)
	for page, err := range cursor.Pages(ctx) {
		if err != nil {
			return transportErr(fmt.Sprintf("history of %d", ch.ID), err)
		}
		if page.Stale() {
			break
		}
		for _, m := range page.Messages {
			if m.empty() {
				continue
			}
			rec := p.newRecord(src.ID, m)
			records = append(records, rec)
			if len(m.Files) > 0 {
				filesByRecord[rec.SourceRecordID] = m.Files
			}
		}
	}

	created, err := p.storage.SaveRecords(ctx, records)
	if err != nil {
		return storageErr("save records", err)
	}
	for _, rec := range created {
		files := filesByRecord[rec.SourceRecordID]
		if len(files) == 0 {
			continue
		}
		if err := p.handleNewFiles(ctx, files, rec.ID); err != nil {
			p.log.Error("handle synced files", "record", rec.ID, "error", err)
		}
	}

	p.log.Info("channel synchronized", "channel", ch.Title, "fetched", len(records), "new", len(created))
	return nil
}
