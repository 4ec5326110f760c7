// Package stream ingests streamed assistant replies.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/chatdesk/internal/model"
)

// Markers delimit the in-band metadata envelope.
type Markers struct {
	Start string
	End   string
}

// DefaultMarkers are the markers the backend writes.
var DefaultMarkers = Markers{
	Start: "<GRANDMA_METADATA>",
	End:   "</GRANDMA_METADATA>",
}

// Update is the decoder state after one chunk.
type Update struct {
	// Content is the user-visible reply so far.
	Content string
	// DocumentID is the server document id, once an envelope carried one.
	DocumentID string
	// Err is set when an envelope completed in this chunk but its payload
	// did not parse.
	Err error
}

// Decoder splits a chunked reply into visible content and envelope metadata.
// Envelopes may arrive whole or split across any chunk boundaries.
type Decoder struct {
	markers    Markers
	raw        []byte
	documentID string
	envelopes  int
}

// NewDecoder creates a decoder for the given markers.
func NewDecoder(markers Markers) *Decoder {
	return &Decoder{markers: markers}
}

// Write consumes the next chunk.
func (d *Decoder) Write(chunk []byte) Update {
	d.raw = append(d.raw, chunk...)
	err := d.extract()

	start := []byte(d.markers.Start)
	visible := d.raw
	if i := bytes.Index(d.raw, start); i >= 0 {
		visible = d.raw[:i]
	} else {
		visible = visible[:len(visible)-partialSuffix(visible, start)]
	}

	return Update{
		Content:    string(completeUTF8(visible)),
		DocumentID: d.documentID,
		Err:        err,
	}
}

// Finish returns the final visible content and document id. An envelope
// left unterminated by the end of the stream is dropped along with any
// stray markers.
func (d *Decoder) Finish() (string, string) {
	_ = d.extract()

	content := string(d.raw)
	if i := strings.Index(content, d.markers.Start); i >= 0 {
		content = content[:i]
		d.envelopes++
	}
	content = strings.ReplaceAll(content, d.markers.End, "")
	if d.envelopes > 0 {
		content = strings.TrimRight(content, " \r\n")
	}

	return content, d.documentID
}

// DocumentID returns the document id seen so far.
func (d *Decoder) DocumentID() string {
	return d.documentID
}

// extract removes every complete envelope from raw and records its
// document id. It returns the last payload error, if any.
func (d *Decoder) extract() error {
	start := []byte(d.markers.Start)
	end := []byte(d.markers.End)

	var lastErr error
	for {
		i := bytes.Index(d.raw, start)
		if i < 0 {
			return lastErr
		}
		j := bytes.Index(d.raw[i+len(start):], end)
		if j < 0 {
			return lastErr
		}

		payload := d.raw[i+len(start) : i+len(start)+j]
		if err := d.parse(payload); err != nil {
			lastErr = err
		}
		d.envelopes++

		rest := d.raw[i+len(start)+j+len(end):]
		next := make([]byte, 0, i+len(rest))
		next = append(next, d.raw[:i]...)
		next = append(next, rest...)
		d.raw = next
	}
}

func (d *Decoder) parse(payload []byte) error {
	var meta model.StreamMetadata
	if err := json.Unmarshal(bytes.TrimSpace(payload), &meta); err != nil {
		return fmt.Errorf("invalid metadata envelope: %w", err)
	}
	// Never downgrade a known id.
	if meta.DocumentID != "" {
		d.documentID = string(meta.DocumentID)
	}
	return nil
}

// partialSuffix returns the length of the longest suffix of b that is a
// proper prefix of marker.
func partialSuffix(b, marker []byte) int {
	n := len(marker) - 1
	if n > len(b) {
		n = len(b)
	}
	for k := n; k > 0; k-- {
		if bytes.HasSuffix(b, marker[:k]) {
			return k
		}
	}
	return 0
}

// completeUTF8 trims a trailing incomplete UTF-8 sequence.
func completeUTF8(b []byte) []byte {
	for k := 1; k <= utf8.UTFMax && k <= len(b); k++ {
		i := len(b) - k
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return b[:i]
		}
		return b
	}
	return b
}
