package typetable

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"
)

// Encode writes the image as plain msgpack.
func Encode(w io.Writer, img *Image) error {
	if img == nil {
		return fmt.Errorf("nil image")
	}
	return msgpack.NewEncoder(w).Encode(img)
}

// Decode reads an image, transparently unwrapping gzip when the stream
// starts with the gzip magic.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return decodeRaw(gz)
	}
	return decodeRaw(br)
}

func decodeRaw(r io.Reader) (*Image, error) {
	var img Image
	if err := msgpack.NewDecoder(r).Decode(&img); err != nil {
		return nil, fmt.Errorf("typetable decode: %w", err)
	}
	if img.Schema != schemaVersion {
		return nil, fmt.Errorf("image %s has schema %d, want %d: %w",
			img.Module, img.Schema, schemaVersion, ErrSchema)
	}
	return &img, nil
}

// WriteFile serializes the image to path via a temp file and atomic rename.
// A ".gz" suffix selects gzip compression, matching the compressed tables
// instrumented builds ship.
func WriteFile(path string, img *Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if err := Encode(w, img); err != nil {
		_ = f.Close()
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile loads and decodes one image from disk.
func ReadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}
