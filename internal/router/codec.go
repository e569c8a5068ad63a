package router

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
	"github.com/parquet-go/parquet-go"
)

// Output formats and compressions.
const (
	FormatJSON    = "json"
	FormatParquet = "parquet"

	CompressionNone   = "none"
	CompressionSnappy = "snappy"
)

// File extensions, longest first so suffix matching picks the right codec.
const (
	extSnappyParquet = ".snappy.parquet"
	extParquet       = ".parquet"
	extSnappyJSON    = ".json.sz"
	extJSON          = ".json"
)

var errUnknownExtension = errors.New("router: unknown file extension")

func extension(format, compression string) string {
	snappyOn := compression == CompressionSnappy
	switch {
	case format == FormatParquet && snappyOn:
		return extSnappyParquet
	case format == FormatParquet:
		return extParquet
	case snappyOn:
		return extSnappyJSON
	default:
		return extJSON
	}
}

// isDataFile reports whether an object path carries a known extension.
func isDataFile(objectPath string) bool {
	for _, ext := range []string{extParquet, extSnappyJSON, extJSON} {
		if strings.HasSuffix(objectPath, ext) {
			return true
		}
	}
	return false
}

// writeFile encodes rows into localPath with the codec named by ext.
func writeFile[R any](localPath, ext string, rows []R) error {
	switch ext {
	case extSnappyParquet:
		return parquet.WriteFile(localPath, rows, parquet.Compression(&parquet.Snappy))
	case extParquet:
		return parquet.WriteFile(localPath, rows)
	case extSnappyJSON:
		return writeJSONLines(localPath, rows, true)
	case extJSON:
		return writeJSONLines(localPath, rows, false)
	default:
		return fmt.Errorf("%w: %q", errUnknownExtension, ext)
	}
}

// readFile decodes the rows of a local copy of objectPath. The codec is
// chosen from the object's extension.
func readFile[R any](localPath, objectPath string) ([]R, error) {
	switch {
	case strings.HasSuffix(objectPath, extParquet):
		return parquet.ReadFile[R](localPath)
	case strings.HasSuffix(objectPath, extSnappyJSON):
		return readJSONLines[R](localPath, true)
	case strings.HasSuffix(objectPath, extJSON):
		return readJSONLines[R](localPath, false)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownExtension, objectPath)
	}
}

func writeJSONLines[R any](localPath string, rows []R, compress bool) error {
	f, err := os.Create(localPath)
	if err != nil {
		return err
	}

	var sw *snappy.Writer
	var w io.Writer = f
	if compress {
		sw = snappy.NewBufferedWriter(f)
		w = sw
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			f.Close()
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if sw != nil {
		if err := sw.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func readJSONLines[R any](localPath string, compressed bool) ([]R, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if compressed {
		r = snappy.NewReader(r)
	}
	dec := json.NewDecoder(r)

	var rows []R
	for {
		var row R
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return rows, nil
			}
			return nil, err
		}
		rows = append(rows, row)
	}
}
