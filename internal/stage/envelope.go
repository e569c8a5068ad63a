package stage

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/clickstream/etl/internal/kv"
	"github.com/clickstream/etl/pkg/types"
)

// Envelope fields written by the ingestion server.
const (
	fieldAppID       = "appId"
	fieldCompression = "compression"
	fieldData        = "data"
	fieldIP          = "ip"
	fieldUA          = "ua"
	fieldIngestTime  = "ingest_time"
	fieldURI         = "uri"
)

// maxPayloadSize bounds a decompressed data payload.
const maxPayloadSize = 64 * 1024 * 1024

// envelope is the part of a source record the transformer reads.
type envelope struct {
	appID       string
	ip          string
	ua          string
	ingestTime  int64
	uploadTime  *int64
	bundleSeqID *int64
	events      []json.RawMessage
}

func parseEnvelope(rec types.Record) (*envelope, error) {
	env := &envelope{}
	env.appID, _ = rec.String(fieldAppID)
	env.ip, _ = rec.String(fieldIP)
	env.ua, _ = rec.String(fieldUA)

	ingest, ok := rec.Int64(fieldIngestTime)
	if !ok {
		return nil, fmt.Errorf("missing %s", fieldIngestTime)
	}
	env.ingestTime = ingest

	if uri, ok := rec.String(fieldURI); ok && uri != "" {
		env.uploadTime, env.bundleSeqID = parseURI(uri)
	}

	payload, err := decodePayload(rec)
	if err != nil {
		return nil, err
	}
	env.events, err = splitEvents(payload)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// decodePayload returns the JSON text of the data field: inline JSON, a
// JSON string, or base64 gzip when compression is "gzip".
func decodePayload(rec types.Record) ([]byte, error) {
	compression, _ := rec.String(fieldCompression)

	switch data := rec[fieldData].(type) {
	case json.RawMessage:
		if strings.EqualFold(compression, "gzip") {
			return nil, fmt.Errorf("gzip data must be a base64 string")
		}
		return data, nil
	case string:
		if !strings.EqualFold(compression, "gzip") {
			return []byte(data), nil
		}
		compressed, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
		gz, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip data: %w", err)
		}
		defer gz.Close()
		out, err := io.ReadAll(io.LimitReader(gz, maxPayloadSize+1))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip data: %w", err)
		}
		if len(out) > maxPayloadSize {
			return nil, fmt.Errorf("data exceeds %d bytes", maxPayloadSize)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("missing %s", fieldData)
	default:
		return nil, fmt.Errorf("unsupported %s type %T", fieldData, data)
	}
}

// splitEvents accepts a single event object or an array of them.
func splitEvents(payload []byte) ([]json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	if payload[0] == '{' {
		return []json.RawMessage{payload}, nil
	}
	var events []json.RawMessage
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return events, nil
}

func parseURI(uri string) (upload, seq *int64) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, nil
	}
	q := u.Query()
	if n, err := strconv.ParseInt(q.Get("upload_timestamp"), 10, 64); err == nil {
		upload = &n
	}
	if n, err := strconv.ParseInt(q.Get("event_bundle_sequence_id"), 10, 64); err == nil {
		seq = &n
	}
	return upload, seq
}

// object is a decoded JSON object keeping member order.
type object struct {
	fields []kv.Field
	index  map[string]int
}

func parseObject(raw []byte) (*object, error) {
	fields, err := kv.Fields(raw)
	if err != nil {
		return nil, err
	}
	o := &object{fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		if _, dup := o.index[f.Key]; !dup {
			o.index[f.Key] = i
		}
	}
	return o, nil
}

func (o *object) raw(key string) (json.RawMessage, bool) {
	i, ok := o.index[key]
	if !ok {
		return nil, false
	}
	raw := bytes.TrimSpace(o.fields[i].Raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false
	}
	return raw, true
}

// str returns the textual form of a member, or nil when absent or null.
func (o *object) str(key string) *string {
	raw, ok := o.raw(key)
	if !ok {
		return nil
	}
	s, ok := kv.Text(raw)
	if !ok {
		return nil
	}
	return &s
}

// long returns an integral member. Quoted integers are accepted.
func (o *object) long(key string) (*int64, error) {
	s := o.str(key)
	if s == nil {
		return nil, nil
	}
	n, err := strconv.ParseInt(*s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(*s, 64)
		if ferr != nil || f != float64(int64(f)) {
			return nil, fmt.Errorf("%s: %q is not an integer", key, *s)
		}
		n = int64(f)
	}
	return &n, nil
}

func (o *object) double(key string) (*float64, error) {
	s := o.str(key)
	if s == nil {
		return nil, nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a number", key, *s)
	}
	return &f, nil
}
