// Package attachment encodes files for transport inside a dispatch request
// and enforces per-file size and per-message count limits.
package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

const (
	DefaultMaxSize  int64 = 10 << 20
	DefaultMaxCount       = 5

	fallbackContentType = "application/octet-stream"
)

type Limits struct {
	MaxSize  int64
	MaxCount int
}

func DefaultLimits() Limits {
	return Limits{MaxSize: DefaultMaxSize, MaxCount: DefaultMaxCount}
}

type Codec struct {
	limits Limits
}

func NewCodec(l Limits) *Codec {
	if l.MaxSize <= 0 {
		l.MaxSize = DefaultMaxSize
	}
	if l.MaxCount <= 0 {
		l.MaxCount = DefaultMaxCount
	}
	return &Codec{limits: l}
}

func (c *Codec) Limits() Limits { return c.limits }

// Encode converts data into a transport-safe attachment. size is the declared
// length and is checked before any work is done; current is the number of
// attachments already held by the caller.
func (c *Codec) Encode(filename, contentType string, data []byte, size int64, current int) (campaign.Attachment, error) {
	if size > c.limits.MaxSize {
		return campaign.Attachment{}, &campaign.SizeLimitError{Filename: filename, Size: size, Limit: c.limits.MaxSize}
	}
	if current >= c.limits.MaxCount {
		return campaign.Attachment{}, &campaign.CountLimitError{Limit: c.limits.MaxCount}
	}
	if int64(len(data)) > c.limits.MaxSize {
		return campaign.Attachment{}, &campaign.SizeLimitError{Filename: filename, Size: int64(len(data)), Limit: c.limits.MaxSize}
	}
	if contentType == "" {
		contentType = fallbackContentType
	}
	return campaign.Attachment{
		Filename:    filename,
		Content:     base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
	}, nil
}

// Check validates an already encoded attachment against the size limit.
func (c *Codec) Check(a campaign.Attachment) error {
	n, err := DecodedSize(a)
	if err != nil {
		return err
	}
	if n > c.limits.MaxSize {
		return &campaign.SizeLimitError{Filename: a.Filename, Size: n, Limit: c.limits.MaxSize}
	}
	return nil
}

// Decode reproduces the original bytes of an encoded attachment.
func Decode(a campaign.Attachment) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(a.Content)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s: %w", a.Filename, err)
	}
	return b, nil
}

// DecodedSize validates the encoding and returns the byte length Decode
// would produce, without holding the decoded bytes. Line breaks are ignored
// as Decode ignores them.
func DecodedSize(a campaign.Attachment) (int64, error) {
	n, err := io.Copy(io.Discard, base64.NewDecoder(base64.StdEncoding, strings.NewReader(a.Content)))
	if err != nil {
		return 0, fmt.Errorf("decode attachment %s: %w", a.Filename, err)
	}
	return n, nil
}

// Set is the attachment collection of one compose session.
type Set struct {
	codec *Codec
	items []campaign.Attachment
}

func NewSet(c *Codec) *Set {
	return &Set{codec: c}
}

// Add reads at most the size limit from r and appends the encoded file.
// The collection is left unchanged on error.
func (s *Set) Add(filename, contentType string, r io.Reader, size int64) error {
	lim := s.codec.limits
	if size > lim.MaxSize {
		return &campaign.SizeLimitError{Filename: filename, Size: size, Limit: lim.MaxSize}
	}
	if len(s.items) >= lim.MaxCount {
		return &campaign.CountLimitError{Limit: lim.MaxCount}
	}

	data, err := io.ReadAll(io.LimitReader(r, lim.MaxSize+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}
	a, err := s.codec.Encode(filename, contentType, data, int64(len(data)), len(s.items))
	if err != nil {
		return err
	}
	s.items = append(s.items, a)
	return nil
}

// AddFile attaches the file at path, sniffing its content type.
func (s *Set) AddFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	if fi.Size() > s.codec.limits.MaxSize {
		return &campaign.SizeLimitError{Filename: name, Size: fi.Size(), Limit: s.codec.limits.MaxSize}
	}
	if len(s.items) >= s.codec.limits.MaxCount {
		return &campaign.CountLimitError{Limit: s.codec.limits.MaxCount}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return s.Add(name, DetectContentType(data), bytes.NewReader(data), int64(len(data)))
}

func (s *Set) Remove(i int) {
	if i < 0 || i >= len(s.items) {
		return
	}
	s.items = append(s.items[:i:i], s.items[i+1:]...)
}

func (s *Set) Len() int { return len(s.items) }

// Items returns a copy of the collection.
func (s *Set) Items() []campaign.Attachment {
	out := make([]campaign.Attachment, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Set) Reset() { s.items = nil }

func DetectContentType(data []byte) string {
	mt := mimetype.Detect(data)
	if mt == nil {
		return fallbackContentType
	}
	return mt.String()
}
