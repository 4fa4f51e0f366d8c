// Package backup reads and writes backup documents of the local cache.
//
// The standard document is
//
//	{"version":"2.0","timestamp":"…","tables":{"<table>":{"data":[…]}}}
//
// Read also accepts the simple form {"<table>": [...] | {"data":[...]}},
// where a table value may itself be a JSON-encoded string. Either form may
// be wrapped in a snappy framed stream.
package backup

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/golang/snappy"

	"github.com/labsafe/labsync/internal/models"
	lsync "github.com/labsafe/labsync/internal/sync"
)

// Version is written into every exported document.
const Version = "2.0"

// snappy framed streams start with this stream identifier chunk.
var snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

// ErrInvalidDocument is returned when input is neither document form.
var ErrInvalidDocument = errors.New("invalid backup document")

// TableData is the per-table payload, laid out like the cache snapshot.
type TableData struct {
	Data []models.Record `json:"data"`
}

// Document is a backup of every table's cache.
type Document struct {
	Version   string               `json:"version"`
	Timestamp time.Time            `json:"timestamp"`
	Tables    map[string]TableData `json:"tables"`
}

// Count returns the number of records across all tables.
func (d *Document) Count() int {
	n := 0
	for _, t := range d.Tables {
		n += len(t.Data)
	}
	return n
}

// TableNames returns the document's tables in sorted order.
func (d *Document) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Export snapshots every table of m into a document stamped with now.
func Export(m *lsync.Manager, now time.Time) (*Document, error) {
	doc := &Document{
		Version:   Version,
		Timestamp: now.UTC().Truncate(time.Second),
		Tables:    make(map[string]TableData),
	}
	for _, table := range m.Tables() {
		records, err := m.GetAll(table)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", table, err)
		}
		if records == nil {
			records = []models.Record{}
		}
		doc.Tables[table] = TableData{Data: records}
	}
	return doc, nil
}

// Write encodes doc as indented JSON, snappy framed when compress is set.
func Write(w io.Writer, doc *Document, compress bool) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	data = append(data, '\n')
	if !compress {
		_, err = w.Write(data)
		return err
	}
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		sw.Close()
		return fmt.Errorf("compress backup: %w", err)
	}
	return sw.Close()
}

// Read decodes a document in either form, compressed or not.
func Read(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	if head, _ := br.Peek(len(snappyMagic)); bytes.Equal(head, snappyMagic) {
		r = snappy.NewReader(br)
	} else {
		r = br
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read backup: %w", err)
	}
	return Parse(data)
}

// Parse decodes an uncompressed document in either form.
func Parse(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if len(top) == 0 {
		return nil, ErrInvalidDocument
	}

	_, hasVersion := top["version"]
	_, hasTables := top["tables"]
	if hasVersion && hasTables {
		var doc struct {
			Version   string                     `json:"version"`
			Timestamp time.Time                  `json:"timestamp"`
			Tables    map[string]json.RawMessage `json:"tables"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		out := &Document{Version: doc.Version, Timestamp: doc.Timestamp, Tables: make(map[string]TableData)}
		for name, raw := range doc.Tables {
			records, err := parseTable(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: table %s: %v", ErrInvalidDocument, name, err)
			}
			out.Tables[name] = TableData{Data: records}
		}
		return out, nil
	}

	out := &Document{Tables: make(map[string]TableData)}
	for name, raw := range top {
		records, err := parseTable(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: table %s: %v", ErrInvalidDocument, name, err)
		}
		out.Tables[name] = TableData{Data: records}
	}
	return out, nil
}

// parseTable accepts [...], {"data":[...]} or a JSON string holding either.
func parseTable(raw json.RawMessage) ([]models.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 {
		return nil, errors.New("empty table")
	}
	var records []models.Record
	switch raw[0] {
	case '[':
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, err
		}
	case '{':
		var td TableData
		if err := json.Unmarshal(raw, &td); err != nil {
			return nil, err
		}
		records = td.Data
	case 'n':
		return nil, nil
	default:
		return nil, errors.New("expected an array or an object with data")
	}
	return records, nil
}

// Result reports what Restore did for one table.
type Result struct {
	Table    string
	Restored int
	Skipped  bool // not a table of the manager
}

// Restore loads doc into m. Without upload each table's cache is replaced
// verbatim and sync is paused, so reconciliation cannot discard restored
// rows the server lacks. With upload every record is imported under a fresh
// local id with a queued create.
func Restore(m *lsync.Manager, doc *Document, upload bool) ([]Result, error) {
	if !upload {
		if err := m.Pause(); err != nil {
			return nil, err
		}
	}
	var results []Result
	for _, name := range doc.TableNames() {
		e, err := m.Engine(name)
		if err != nil {
			results = append(results, Result{Table: name, Skipped: true})
			continue
		}
		records := doc.Tables[name].Data
		if upload {
			n, err := e.Import(records)
			if err != nil {
				return results, err
			}
			results = append(results, Result{Table: name, Restored: n})
			continue
		}
		if err := e.RestoreCache(records); err != nil {
			return results, err
		}
		results = append(results, Result{Table: name, Restored: len(records)})
	}
	return results, nil
}
