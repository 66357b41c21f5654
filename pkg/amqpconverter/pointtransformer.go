package amqpconverter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/illmade-knight/go-timebridge/pkg/messagepipeline"
)

// fallbackFieldKey is the single field used when a body is not a structured
// object.
const fallbackFieldKey = "raw_message"

// defaultMeasurement is used only when there is no override and the delivery
// routing key is empty; a point must never carry an empty measurement name.
const defaultMeasurement = "message"

// timestampKey is the reserved source key carrying the point's instant. It is
// never emitted as a field.
const timestampKey = "timestamp"

// objectEntry is one key/value pair of the parsed body, in document order.
// Order matters: when a rename maps two source keys onto the same destination
// field, the later entry wins.
type objectEntry struct {
	key   string
	value any
}

// BuildPoint transforms one delivery into a Point under the owning
// subscription's configuration. fallback reports that the body was not a
// structured object and the raw_message representation was used; that is not
// a failure. A non-nil error means no point could be built and the delivery
// should be rejected.
func BuildPoint(msg *messagepipeline.Message, sub TopicSubscription) (point *messagepipeline.Point, fallback bool, err error) {
	// A malformed value shape must fail this message only, never the pump.
	defer func() {
		if r := recover(); r != nil {
			point = nil
			err = fmt.Errorf("unexpected value shape while building point: %v", r)
		}
	}()

	entries, fallback := parseObject(msg.Payload)

	measurement := sub.Measurement
	if measurement == "" {
		measurement = strings.ReplaceAll(msg.RoutingKey(), ".", "_")
	}
	if measurement == "" {
		measurement = defaultMeasurement
	}

	point = messagepipeline.NewPoint(measurement, resolveTimestamp(entries))

	for key, value := range sub.Tags {
		point.SetTag(key, value)
	}
	// Applied after the static tags so they always win over a same-named
	// configured tag.
	point.SetTag(messagepipeline.AttrRoutingKey, msg.RoutingKey())
	point.SetTag(messagepipeline.AttrExchange, msg.Exchange())

	for _, entry := range entries {
		if entry.key == timestampKey {
			continue
		}
		fieldName := entry.key
		if mapped, ok := sub.FieldMapping[entry.key]; ok {
			fieldName = mapped
		}
		point.SetField(fieldName, fieldValue(entry.value))
	}

	return point, fallback, nil
}

// parseObject decodes the body as a JSON object, preserving document key
// order and the integer/float distinction. Anything that is not a well-formed
// JSON object falls back to {"raw_message": <body as text>}; the fallback
// never fails, substituting a lossy decoding for invalid UTF-8.
func parseObject(body []byte) ([]objectEntry, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return rawMessageFallback(body)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return rawMessageFallback(body)
	}

	var entries []objectEntry
	for dec.More() {
		keyTok, keyErr := dec.Token()
		if keyErr != nil {
			return rawMessageFallback(body)
		}
		key, ok := keyTok.(string)
		if !ok {
			return rawMessageFallback(body)
		}
		var value any
		if decErr := dec.Decode(&value); decErr != nil {
			return rawMessageFallback(body)
		}
		entries = append(entries, objectEntry{key: key, value: value})
	}
	if _, err = dec.Token(); err != nil {
		return rawMessageFallback(body)
	}
	// Trailing content after the object means the body was not a single
	// JSON document.
	if _, err = dec.Token(); err != io.EOF {
		return rawMessageFallback(body)
	}
	return entries, false
}

func rawMessageFallback(body []byte) ([]objectEntry, bool) {
	text := strings.ToValidUTF8(string(body), "�")
	return []objectEntry{{key: fallbackFieldKey, value: text}}, true
}

// resolveTimestamp applies the timestamp rules in order: numeric seconds
// since epoch (fractional seconds kept to nanosecond precision), then an
// ISO-8601 string, then the current wall clock. A string that fails to parse
// also falls back to the current wall clock.
func resolveTimestamp(entries []objectEntry) time.Time {
	// A duplicated timestamp key collapses to the last occurrence, the same
	// document-order last-write-wins rule fields follow.
	var raw any
	found := false
	for _, entry := range entries {
		if entry.key == timestampKey {
			raw = entry.value
			found = true
		}
	}
	if found {
		switch v := raw.(type) {
		case json.Number:
			return epochSecondsToTime(v)
		case string:
			if t, err := parseISOTime(v); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

// epochSecondsToTime converts seconds since the Unix epoch to an instant.
// The integer path stays exact; the float path preserves fractional seconds
// to nanosecond precision.
func epochSecondsToTime(n json.Number) time.Time {
	if sec, err := n.Int64(); err == nil {
		return time.Unix(sec, 0).UTC()
	}
	f, err := n.Float64()
	if err != nil {
		return time.Now().UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// parseISOTime parses an ISO-8601 date-time. A trailing Z is UTC; a value
// with no offset at all is also treated as UTC.
func parseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// fieldValue maps a parsed JSON value to a field scalar: integers stay
// signed integers, other numerics stay floating point, booleans stay
// booleans, and everything else is stringified.
func fieldValue(v any) any {
	switch value := v.(type) {
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return i
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case bool:
		return value
	case string:
		return value
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", value)
	}
}
