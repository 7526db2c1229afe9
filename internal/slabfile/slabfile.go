// Package slabfile implements the self-describing columnar array container
// used for both input datasets and scheduled output. A file carries a
// msgpack-encoded schema (dimensions, variables, attributes) followed by a
// fixed-width big-endian data region. At most one dimension may be
// unlimited; it must be the leading dimension of every variable that uses
// it and serves as the time axis, with records appended by extending the
// file.
//
// Files follow the define-then-data discipline: dimensions and variables
// may only be added before EndDef, and slab reads/writes are only legal
// afterwards.
package slabfile

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/coupledsim/fieldio/internal/errs"
)

const (
	magic = "SLB1"

	// headerCap is the reserved header region; the data region always
	// starts at this offset so the schema can be rewritten in place.
	headerCap = 8192
)

// Value types supported by the format.
const (
	TypeF4 = "f4"
	TypeF8 = "f8"
)

func elemSize(typ string) (int, error) {
	switch typ {
	case TypeF4:
		return 4, nil
	case TypeF8:
		return 8, nil
	default:
		return 0, fmt.Errorf("unknown value type %q", typ)
	}
}

// Dim is a named dimension. An unlimited dimension has no fixed length;
// its current length is the file's record count.
type Dim struct {
	Name      string `msgpack:"name"`
	Len       int    `msgpack:"len"`
	Unlimited bool   `msgpack:"unlimited"`
}

// Var is a named variable over an ordered list of dimensions.
type Var struct {
	Name  string            `msgpack:"name"`
	Type  string            `msgpack:"type"`
	Dims  []string          `msgpack:"dims"`
	Attrs map[string]string `msgpack:"attrs,omitempty"`
}

// Schema is the self-describing header of a slab file.
type Schema struct {
	Dims  []Dim             `msgpack:"dims"`
	Vars  []Var             `msgpack:"vars"`
	Attrs map[string]string `msgpack:"attrs,omitempty"`
}

// varLayout holds the computed placement of one variable in the data
// region.
type varLayout struct {
	record    bool
	offset    int64 // fixed var: absolute offset; record var: offset within a record
	blockSize int64 // bytes covered by one record (record var) or the whole var (fixed var)
	shape     []int // per-record shape for record vars, full shape otherwise
	esize     int
}

// File is an open slab file.
type File struct {
	f          *os.File
	path       string
	schema     Schema
	defineMode bool
	writable   bool

	layouts  map[string]*varLayout
	recStart int64
	recSize  int64
}

// Create opens a new slab file in define mode, truncating any existing
// file at path.
func Create(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.WrapIO(err, "slabfile", "Create", path)
	}
	return &File{
		f:          f,
		path:       path,
		schema:     Schema{Attrs: map[string]string{}},
		defineMode: true,
		writable:   true,
	}, nil
}

// Open opens an existing slab file read-only in data mode.
func Open(path string) (*File, error) {
	return open(path, false)
}

// OpenAppend opens an existing slab file read-write in data mode so
// further records can be appended.
func OpenAppend(path string) (*File, error) {
	return open(path, true)
}

func open(path string, writable bool) (*File, error) {
	flags := os.O_RDONLY
	if writable {
		flags = os.O_RDWR
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, errs.WrapIO(err, "slabfile", "Open", path)
	}

	hdr := make([]byte, 8)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, errs.WrapIO(err, "slabfile", "Open", fmt.Sprintf("%s: reading header", path))
	}
	if string(hdr[:4]) != magic {
		f.Close()
		return nil, errs.IOf("slabfile", "Open", "%s: not a slab file (bad magic)", path)
	}
	schemaLen := binary.BigEndian.Uint32(hdr[4:8])
	if schemaLen == 0 || schemaLen > headerCap-8 {
		f.Close()
		return nil, errs.IOf("slabfile", "Open", "%s: invalid schema length %d", path, schemaLen)
	}
	raw := make([]byte, schemaLen)
	if _, err := f.ReadAt(raw, 8); err != nil {
		f.Close()
		return nil, errs.WrapIO(err, "slabfile", "Open", fmt.Sprintf("%s: reading schema", path))
	}

	sf := &File{f: f, path: path, writable: writable}
	if err := msgpack.Unmarshal(raw, &sf.schema); err != nil {
		f.Close()
		return nil, errs.WrapIO(err, "slabfile", "Open", fmt.Sprintf("%s: malformed schema", path))
	}
	if err := sf.computeLayout(); err != nil {
		f.Close()
		return nil, err
	}
	return sf, nil
}

// Path returns the file's path.
func (sf *File) Path() string { return sf.path }

// Schema returns the file's schema.
func (sf *File) Schema() *Schema { return &sf.schema }

// AddDim defines a dimension. Only one unlimited dimension is permitted.
func (sf *File) AddDim(name string, length int, unlimited bool) error {
	if !sf.defineMode {
		return errs.WrapState(errs.ErrDataMode, "slabfile", "AddDim", name)
	}
	for _, d := range sf.schema.Dims {
		if d.Name == name {
			return errs.Configf("slabfile", "AddDim", "dimension %q already defined", name)
		}
		if unlimited && d.Unlimited {
			return errs.Configf("slabfile", "AddDim", "unlimited dimension %q already defined", d.Name)
		}
	}
	if !unlimited && length <= 0 {
		return errs.Configf("slabfile", "AddDim", "dimension %q must have positive length", name)
	}
	sf.schema.Dims = append(sf.schema.Dims, Dim{Name: name, Len: length, Unlimited: unlimited})
	return nil
}

// AddVar defines a variable over previously defined dimensions. If the
// unlimited dimension appears it must be first.
func (sf *File) AddVar(name, typ string, dims []string, attrs map[string]string) error {
	if !sf.defineMode {
		return errs.WrapState(errs.ErrDataMode, "slabfile", "AddVar", name)
	}
	if _, err := elemSize(typ); err != nil {
		return errs.WrapConfig(err, "slabfile", "AddVar", name)
	}
	if _, ok := sf.findVar(name); ok {
		return errs.Configf("slabfile", "AddVar", "variable %q already defined", name)
	}
	for i, dn := range dims {
		d, ok := sf.findDim(dn)
		if !ok {
			return errs.Configf("slabfile", "AddVar", "variable %q references undefined dimension %q", name, dn)
		}
		if d.Unlimited && i != 0 {
			return errs.Configf("slabfile", "AddVar", "variable %q: unlimited dimension %q must be leading", name, dn)
		}
	}
	sf.schema.Vars = append(sf.schema.Vars, Var{
		Name:  name,
		Type:  typ,
		Dims:  append([]string(nil), dims...),
		Attrs: attrs,
	})
	return nil
}

// SetAttr sets a global attribute.
func (sf *File) SetAttr(key, value string) {
	if sf.schema.Attrs == nil {
		sf.schema.Attrs = map[string]string{}
	}
	sf.schema.Attrs[key] = value
}

// EndDef leaves define mode: the schema is written to the header region
// and the data-region layout is computed. Slab writes are legal afterwards.
func (sf *File) EndDef() error {
	if !sf.defineMode {
		return errs.WrapState(errs.ErrDataMode, "slabfile", "EndDef", sf.path)
	}
	if err := sf.computeLayout(); err != nil {
		return err
	}
	if err := sf.writeHeader(); err != nil {
		return err
	}
	sf.defineMode = false
	return nil
}

func (sf *File) writeHeader() error {
	raw, err := msgpack.Marshal(&sf.schema)
	if err != nil {
		return errs.WrapIO(err, "slabfile", "EndDef", "encoding schema")
	}
	if len(raw)+8 > headerCap {
		return errs.IOf("slabfile", "EndDef", "schema size %d exceeds header capacity", len(raw))
	}
	buf := make([]byte, headerCap)
	copy(buf[:4], magic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(raw)))
	copy(buf[8:], raw)
	if _, err := sf.f.WriteAt(buf, 0); err != nil {
		return errs.WrapIO(err, "slabfile", "EndDef", fmt.Sprintf("%s: writing header", sf.path))
	}
	return nil
}

func (sf *File) findDim(name string) (Dim, bool) {
	for _, d := range sf.schema.Dims {
		if d.Name == name {
			return d, true
		}
	}
	return Dim{}, false
}

func (sf *File) findVar(name string) (Var, bool) {
	for _, v := range sf.schema.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return Var{}, false
}

// HasVar reports whether the file defines the named variable.
func (sf *File) HasVar(name string) bool {
	_, ok := sf.findVar(name)
	return ok
}

// computeLayout places fixed variables sequentially after the header and
// interleaves record variables per record, in definition order.
func (sf *File) computeLayout() error {
	sf.layouts = make(map[string]*varLayout, len(sf.schema.Vars))

	var fixedOff int64 = headerCap
	var recOff int64

	for _, v := range sf.schema.Vars {
		esize, err := elemSize(v.Type)
		if err != nil {
			return errs.WrapConfig(err, "slabfile", "layout", v.Name)
		}
		record := false
		shape := make([]int, 0, len(v.Dims))
		for _, dn := range v.Dims {
			d, ok := sf.findDim(dn)
			if !ok {
				return errs.Configf("slabfile", "layout", "variable %q references undefined dimension %q", v.Name, dn)
			}
			if d.Unlimited {
				record = true
				continue
			}
			shape = append(shape, d.Len)
		}
		block := int64(esize)
		for _, s := range shape {
			block *= int64(s)
		}
		l := &varLayout{record: record, blockSize: block, shape: shape, esize: esize}
		if record {
			l.offset = recOff
			recOff += block
		} else {
			l.offset = fixedOff
			fixedOff += block
		}
		sf.layouts[v.Name] = l
	}

	sf.recStart = fixedOff
	sf.recSize = recOff
	return nil
}

// NumRecords returns the number of complete records along the unlimited
// dimension.
func (sf *File) NumRecords() (int, error) {
	if sf.defineMode {
		return 0, errs.WrapState(errs.ErrDefineMode, "slabfile", "NumRecords", sf.path)
	}
	if sf.recSize == 0 {
		return 0, nil
	}
	fi, err := sf.f.Stat()
	if err != nil {
		return 0, errs.WrapIO(err, "slabfile", "NumRecords", sf.path)
	}
	if fi.Size() <= sf.recStart {
		return 0, nil
	}
	return int((fi.Size() - sf.recStart) / sf.recSize), nil
}

// Sync flushes file contents to stable storage.
func (sf *File) Sync() error {
	if err := sf.f.Sync(); err != nil {
		return errs.WrapIO(err, "slabfile", "Sync", sf.path)
	}
	return nil
}

// Close closes the file. A file still in define mode is finalized first
// so the schema is never lost.
func (sf *File) Close() error {
	if sf.defineMode && sf.writable {
		if err := sf.EndDef(); err != nil {
			sf.f.Close()
			return err
		}
	}
	if err := sf.f.Close(); err != nil {
		return errs.WrapIO(err, "slabfile", "Close", sf.path)
	}
	return nil
}
