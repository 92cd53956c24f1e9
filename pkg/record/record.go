package record

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Core attributes populated on every FlowRecord when the caller omits them.
const (
	AttrUUID     = "uuid"
	AttrFilename = "filename"
)

// Record is the view of a host record the render step consumes. Attributes
// returns a copy; callers may mutate it freely.
type Record interface {
	ID() string
	Attributes() map[string]string
	Attribute(key string) (string, bool)
	Size() int64
	Open() (io.ReadCloser, error)
}

// Option configures a FlowRecord during construction.
type Option func(*FlowRecord)

// WithID overrides the generated record identifier.
func WithID(id string) Option {
	return func(r *FlowRecord) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			r.id = trimmed
		}
	}
}

// WithContent attaches an in-memory content payload.
func WithContent(data []byte) Option {
	return func(r *FlowRecord) {
		payload := bytes.Clone(data)
		r.size = int64(len(payload))
		r.open = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
}

// FlowRecord is an immutable in-memory Record. Methods that add attributes
// return a new value and leave the receiver untouched.
type FlowRecord struct {
	id    string
	attrs map[string]string
	size  int64
	open  func() (io.ReadCloser, error)
}

var _ Record = (*FlowRecord)(nil)

// New constructs a FlowRecord from attrs. The map is copied.
func New(attrs map[string]string, options ...Option) *FlowRecord {
	r := &FlowRecord{
		attrs: make(map[string]string, len(attrs)+2),
	}
	maps.Copy(r.attrs, attrs)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.id == "" {
		if existing := strings.TrimSpace(r.attrs[AttrUUID]); existing != "" {
			r.id = existing
		} else {
			r.id = uuid.NewString()
		}
	}
	if _, ok := r.attrs[AttrUUID]; !ok {
		r.attrs[AttrUUID] = r.id
	}
	if _, ok := r.attrs[AttrFilename]; !ok {
		r.attrs[AttrFilename] = r.id
	}
	return r
}

// FromFile builds a record whose content stream is the file at path. The file
// is opened lazily on each Open call; its size is captured up front.
func FromFile(path string, attrs map[string]string, options ...Option) (*FlowRecord, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("record: content path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("record: stat content: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("record: content %q is a directory", path)
	}

	r := New(attrs, options...)
	r.size = info.Size()
	r.open = func() (io.ReadCloser, error) {
		return os.Open(path)
	}
	return r, nil
}

// ID returns the record identifier.
func (r *FlowRecord) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Attributes returns a copy of the attribute map.
func (r *FlowRecord) Attributes() map[string]string {
	if r == nil {
		return map[string]string{}
	}
	return maps.Clone(r.attrs)
}

// Attribute looks up a single attribute.
func (r *FlowRecord) Attribute(key string) (string, bool) {
	if r == nil {
		return "", false
	}
	value, ok := r.attrs[key]
	return value, ok
}

// Size reports the content length in bytes.
func (r *FlowRecord) Size() int64 {
	if r == nil {
		return 0
	}
	return r.size
}

// Open returns a reader over the record content. Records without content
// yield an empty reader.
func (r *FlowRecord) Open() (io.ReadCloser, error) {
	if r == nil || r.open == nil {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	return r.open()
}

// WithAttribute returns a copy of the record carrying key=value in addition to
// the existing attributes. Content and identity are shared with the receiver.
// A nil receiver yields a new empty record carrying only key=value.
func (r *FlowRecord) WithAttribute(key, value string) *FlowRecord {
	if r == nil {
		return New(map[string]string{key: value})
	}
	next := &FlowRecord{
		id:    r.id,
		attrs: maps.Clone(r.attrs),
		size:  r.size,
		open:  r.open,
	}
	if next.attrs == nil {
		next.attrs = make(map[string]string, 1)
	}
	next.attrs[key] = value
	return next
}

// PutAttribute adds key=value to any Record. FlowRecords are copied through
// WithAttribute; other implementations are wrapped so the original value is
// never mutated.
func PutAttribute(rec Record, key, value string) Record {
	if fr, ok := rec.(*FlowRecord); ok {
		return fr.WithAttribute(key, value)
	}
	attrs := rec.Attributes()
	attrs[key] = value
	return &overlay{Record: rec, attrs: attrs}
}

type overlay struct {
	Record
	attrs map[string]string
}

func (o *overlay) Attributes() map[string]string {
	return maps.Clone(o.attrs)
}

func (o *overlay) Attribute(key string) (string, bool) {
	value, ok := o.attrs[key]
	return value, ok
}
