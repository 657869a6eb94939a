package credentials

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// filePermissions restricts the record to the owner; it holds secrets.
const filePermissions = 0600

// FileSource reads and writes the persisted flat record.
//
// Layout: SSID, Password, MQTTUser, MQTTPass, Host, Port, URL, each field
// occupying exactly its bound and padded with NUL bytes. A slot without a
// terminator decodes to a value one byte longer than the field allows, so
// Validate rejects it instead of silently truncating.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the record at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the record file path.
func (f *FileSource) Path() string {
	return f.path
}

// Read implements Source.
func (f *FileSource) Read() (Record, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Record{}, fmt.Errorf("reading record file: %w", err)
	}
	return decodeRecord(data)
}

// Save writes cfg to the record file, replacing it atomically.
func (f *FileSource) Save(cfg ConnectionConfig) error {
	data := encodeRecord(cfg)

	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("creating temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("writing record: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close() //nolint:errcheck // chmod error takes precedence
		return fmt.Errorf("setting record permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing record: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing record: %w", err)
	}
	return nil
}

// encodeRecord lays out a validated config. Validation guarantees every
// value leaves room for at least one NUL in its slot.
func encodeRecord(cfg ConnectionConfig) []byte {
	buf := make([]byte, 0, RecordSize)
	for i, v := range cfg.values() {
		slot := make([]byte, layout[i].bound)
		copy(slot, v)
		buf = append(buf, slot...)
	}
	return buf
}

func decodeRecord(data []byte) (Record, error) {
	if len(data) != RecordSize {
		return Record{}, fmt.Errorf("%w: got %d bytes, want %d", ErrCorruptRecord, len(data), RecordSize)
	}

	vals := make([]string, len(layout))
	off := 0
	for i, f := range layout {
		slot := data[off : off+f.bound]
		off += f.bound

		if n := bytes.IndexByte(slot, 0); n >= 0 {
			vals[i] = string(slot[:n])
		} else {
			// Unterminated: keep every byte so the length check fails.
			vals[i] = string(slot)
		}
	}

	return Record{
		SSID:     vals[0],
		Password: vals[1],
		MQTTUser: vals[2],
		MQTTPass: vals[3],
		Host:     vals[4],
		Port:     vals[5],
		URL:      vals[6],
	}, nil
}
