// Package mapshare tracks map transfers between a room and the shared map
// repository. A Coordinator belongs to one lobby and is only touched from
// that lobby's loop; transfers run in the background and come back as
// DownloadResult and UploadResult values handed to the post callback.
package mapshare

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/rts-lobby/internal/engine"
)

var ErrHashMismatch = errors.New("downloaded map hash mismatch")

const (
	TagRequest  = "MAPREQ"
	TagReady    = "MAPOK"
	TagFail     = "MAPFAIL"
	TagDisabled = "MAPSDISABLED"
)

type Phase int

const (
	Idle Phase = iota
	Requested
	Downloading
	Complete
	Failed
)

func (p Phase) String() string {
	switch p {
	case Requested:
		return "requested"
	case Downloading:
		return "downloading"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	}
	return "idle"
}

type Repository interface {
	Download(ctx context.Context, hash string) ([]byte, error)
	Upload(ctx context.Context, hash string, data []byte) error
}

type Catalog interface {
	Find(hash string) *engine.Map
	Data(hash string) ([]byte, error)
	Add(data []byte) (*engine.Map, error)
}

type DownloadResult struct {
	Hash string
	Data []byte
	Err  error
}

type UploadResult struct {
	Hash string
	Name string
	Err  error
}

// Out is something the lobby has to do after a coordinator step: send a
// control message to the room, show a notice locally, or both.
type Out struct {
	Message string
	Notice  string
}

func send(tag, hash string) Out { return Out{Message: tag + " " + hash} }

type Options struct {
	Enabled      bool
	AutoDownload bool
	Timeout      time.Duration
}

type Coordinator struct {
	ctx          context.Context
	repo         Repository
	catalog      Catalog
	opts         Options
	post         func(any)
	log          *zap.Logger
	selected     string
	states       map[string]Phase
	retried      map[string]bool
	hostUploaded map[string]bool
	uploading    map[string]bool
}

func New(ctx context.Context, repo Repository, catalog Catalog, opts Options, post func(any), log *zap.Logger) *Coordinator {
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	return &Coordinator{
		ctx:          ctx,
		repo:         repo,
		catalog:      catalog,
		opts:         opts,
		post:         post,
		log:          log,
		states:       make(map[string]Phase),
		retried:      make(map[string]bool),
		hostUploaded: make(map[string]bool),
		uploading:    make(map[string]bool),
	}
}

func (c *Coordinator) State(hash string) Phase { return c.states[hash] }
func (c *Coordinator) Selected() string        { return c.selected }
func (c *Coordinator) HostUploaded(hash string) bool {
	return c.hostUploaded[hash]
}

// Select records the hash currently chosen by the host.
func (c *Coordinator) Select(hash string) { c.selected = hash }

// Missing is called on a guest when the host selected a map it doesn't have.
func (c *Coordinator) Missing(hash string, official bool) []Out {
	c.selected = hash
	if official {
		c.states[hash] = Failed
		return []Out{{
			Message: TagFail + " " + hash,
			Notice:  "The host selected an official map you don't have. Your game version may differ from the host's.",
		}}
	}
	if !c.opts.Enabled {
		c.states[hash] = Failed
		return []Out{{
			Message: TagDisabled,
			Notice:  "The host selected a map you don't have and map sharing is disabled. The host has to change the map.",
		}}
	}
	switch c.states[hash] {
	case Downloading, Complete:
		return nil
	}
	c.states[hash] = Requested
	if c.opts.AutoDownload {
		return c.Confirm()
	}
	return []Out{{Notice: "The host selected a map you don't have. Confirm to download it."}}
}

// Confirm starts the download of the selected map after the user agreed.
func (c *Coordinator) Confirm() []Out {
	hash := c.selected
	if hash == "" || c.states[hash] != Requested {
		return nil
	}
	c.download(hash)
	return []Out{{Notice: "Downloading map..."}}
}

func (c *Coordinator) download(hash string) {
	c.states[hash] = Downloading
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
		defer cancel()
		data, err := c.repo.Download(ctx, hash)
		c.post(DownloadResult{Hash: hash, Data: data, Err: err})
	}()
}

// HandleDownload applies a finished download. The returned map is non-nil
// only when it should be adopted as the current selection.
func (c *Coordinator) HandleDownload(r DownloadResult) (*engine.Map, []Out) {
	if r.Err == nil {
		m, err := c.catalog.Add(r.Data)
		switch {
		case err != nil:
			r.Err = err
		case m.Hash != r.Hash:
			r.Err = fmt.Errorf("%s: got %s: %w", r.Hash, m.Hash, ErrHashMismatch)
		}
		if r.Err == nil {
			c.states[r.Hash] = Complete
			if r.Hash != c.selected {
				c.log.Debug("discarding stale map download", zap.String("hash", r.Hash))
				return nil, nil
			}
			return m, []Out{{Notice: "Map " + m.Name + " downloaded."}}
		}
	}

	c.log.Info("map download failed", zap.String("hash", r.Hash), zap.Error(r.Err))
	if r.Hash != c.selected {
		c.states[r.Hash] = Idle
		return nil, nil
	}
	if c.hostUploaded[r.Hash] || c.retried[r.Hash] {
		c.states[r.Hash] = Failed
		return nil, []Out{{
			Message: TagFail + " " + r.Hash,
			Notice:  "Downloading the map failed. The host has to change the map.",
		}}
	}
	c.retried[r.Hash] = true
	c.states[r.Hash] = Requested
	return nil, []Out{{
		Message: TagRequest + " " + r.Hash,
		Notice:  "Requesting the host to upload the map to the map repository...",
	}}
}

// HandleReady handles MAPOK from the host: the map is now in the repository.
func (c *Coordinator) HandleReady(hash string, haveMap bool) []Out {
	c.hostUploaded[hash] = true
	if hash != c.selected || haveMap || c.states[hash] == Downloading {
		return nil
	}
	c.download(hash)
	return []Out{{Notice: "The host uploaded the map. Downloading..."}}
}

// HandleFail handles MAPFAIL. A failure reported by the host means its upload
// didn't work and won't be retried.
func (c *Coordinator) HandleFail(sender, hash string, fromHost, isHost bool) []Out {
	if fromHost {
		c.hostUploaded[hash] = true
		if hash == c.selected && c.states[hash] != Complete {
			c.states[hash] = Failed
			return []Out{{Notice: "The host failed to upload the map. The host has to change the map."}}
		}
		return nil
	}
	if hash != c.selected {
		return nil
	}
	if isHost {
		return []Out{{Notice: sender + " failed to download the map. You have to change the map or " + sender + " can't play."}}
	}
	return []Out{{Notice: sender + " failed to download the map. The host has to change the map or " + sender + " can't play."}}
}

func (c *Coordinator) HandleDisabled(sender string) []Out {
	return []Out{{Notice: sender + " doesn't have the selected map and has map sharing disabled. The host has to pick an official map."}}
}

// HandleUploadRequest handles MAPREQ on the host.
func (c *Coordinator) HandleUploadRequest(sender, hash string) []Out {
	if c.hostUploaded[hash] || c.uploading[hash] {
		return nil
	}
	m := c.catalog.Find(hash)
	if m == nil {
		c.log.Info("upload request for unknown map", zap.String("sender", sender), zap.String("hash", hash))
		return nil
	}
	if m.Official {
		return []Out{{Notice: sender + " doesn't have the official map " + m.Name + ". Change the map or " + sender + " can't play."}}
	}
	data, err := c.catalog.Data(hash)
	if err != nil {
		c.log.Warn("reading map for upload", zap.String("hash", hash), zap.Error(err))
		return nil
	}

	c.uploading[hash] = true
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.Timeout)
		defer cancel()
		err := c.repo.Upload(ctx, hash, data)
		c.post(UploadResult{Hash: hash, Name: m.Name, Err: err})
	}()
	return []Out{{Notice: sender + " doesn't have the map " + m.Name + ". Uploading it to the map repository..."}}
}

// HandleUpload applies a finished upload on the host.
func (c *Coordinator) HandleUpload(r UploadResult) []Out {
	delete(c.uploading, r.Hash)
	c.hostUploaded[r.Hash] = true
	if r.Err != nil {
		c.log.Warn("map upload failed", zap.String("hash", r.Hash), zap.Error(r.Err))
		out := Out{Notice: "Uploading map " + r.Name + " to the map repository failed."}
		if r.Hash == c.selected {
			out.Message = TagFail + " " + r.Hash
		}
		return []Out{out}
	}
	if r.Hash != c.selected {
		return []Out{{Notice: "Uploaded map " + r.Name + " to the map repository."}}
	}
	return []Out{
		{Notice: "Uploaded map " + r.Name + " to the map repository."},
		send(TagReady, r.Hash),
	}
}
