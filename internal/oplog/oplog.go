// Package oplog provides a durable metadata operation log. Every mutation of
// the metadata tree is appended and fsynced before it is acknowledged, so a
// restarted instance can rebuild its in-memory tree by replaying the log.
package oplog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/snappy"
)

// Metadata operation kinds recorded in the log.
const (
	OpCreateTimeseries   = "createTimeseries"
	OpDeleteTimeseries   = "deleteTimeseries"
	OpSetStorageGroup    = "setStorageGroup"
	OpDeleteStorageGroup = "deleteStorageGroup"
)

// Entry is a single logged metadata operation. Schema fields are populated
// only for createTimeseries; TTLSeconds only for setStorageGroup.
type Entry struct {
	LSN        uint64            `json:"lsn"`
	Op         string            `json:"op"`
	Path       string            `json:"path"`
	DataType   string            `json:"data_type,omitempty"`
	Encoding   string            `json:"encoding,omitempty"`
	Compressor string            `json:"compressor,omitempty"`
	Props      map[string]string `json:"props,omitempty"`
	TTLSeconds int64             `json:"ttl_seconds,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

// Log is an append-only segmented operation log. Frame format per entry:
// [length:4 LE][crc32:4 LE][snappy(json payload)]. Appends fsync before
// returning.
type Log struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	mu         sync.Mutex
}

// Open opens the operation log in dir, creating the directory if needed, and
// positions writes after the last valid entry of the newest segment.
func Open(dir string, maxSegSize int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create oplog directory: %w", err)
	}

	l := &Log{
		dir:        dir,
		maxSegSize: maxSegSize,
	}

	if err := l.findLastSegment(); err != nil {
		return nil, err
	}
	if err := l.openSegment(); err != nil {
		return nil, err
	}

	return l, nil
}

// findLastSegment locates the highest segmentID among existing log files and
// recovers the last LSN from it.
func (l *Log) findLastSegment() error {
	files, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read oplog directory: %w", err)
	}

	var lastSegmentID uint64
	found := false
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		segmentID, ok := parseSegmentName(file.Name())
		if ok && (!found || segmentID > lastSegmentID) {
			lastSegmentID = segmentID
			found = true
		}
	}
	if !found {
		return nil
	}

	l.segmentID = lastSegmentID

	segmentPath := filepath.Join(l.dir, segmentName(lastSegmentID))
	entries, err := ReadEntries(segmentPath)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		l.currentLSN = entries[len(entries)-1].LSN
	}

	return nil
}

// segmentName builds the file name for a segment: mlog_{segmentID:016x}.bin.
func segmentName(segmentID uint64) string {
	return fmt.Sprintf("mlog_%016x.bin", segmentID)
}

// parseSegmentName extracts the segmentID from a segment file name.
func parseSegmentName(name string) (uint64, bool) {
	if len(name) != 25 || name[:5] != "mlog_" {
		return 0, false
	}
	var segmentID uint64
	if _, err := fmt.Sscanf(name[5:21], "%016x", &segmentID); err != nil {
		return 0, false
	}
	return segmentID, true
}

// openSegment opens the current segment file for appending.
func (l *Log) openSegment() error {
	segmentPath := filepath.Join(l.dir, segmentName(l.segmentID))

	file, err := os.OpenFile(segmentPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	l.segment = file
	l.offset = offset

	return nil
}

// Append records a metadata operation and returns its LSN. The entry is
// fsynced before Append returns.
func (l *Log) Append(entry *Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentLSN++
	entry.LSN = l.currentLSN

	raw, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entry: %w", err)
	}
	payload := snappy.Encode(nil, raw)
	crc := crc32.ChecksumIEEE(payload)

	if err := l.writeFrame(uint32(len(payload)), crc, payload); err != nil {
		return 0, err
	}

	return l.currentLSN, nil
}

// writeFrame writes one framed entry to the segment and rotates if the
// segment exceeded its size limit.
func (l *Log) writeFrame(length uint32, crc uint32, payload []byte) error {
	if err := binary.Write(l.segment, binary.LittleEndian, length); err != nil {
		return fmt.Errorf("failed to write length: %w", err)
	}
	if err := binary.Write(l.segment, binary.LittleEndian, crc); err != nil {
		return fmt.Errorf("failed to write CRC: %w", err)
	}
	if _, err := l.segment.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	if err := l.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	l.offset += int64(8 + len(payload))

	if l.offset >= l.maxSegSize {
		if err := l.rotateSegment(); err != nil {
			return err
		}
	}

	return nil
}

// rotateSegment closes the current segment and opens the next one.
func (l *Log) rotateSegment() error {
	if l.segment != nil {
		if err := l.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	l.segmentID++
	return l.openSegment()
}

// CurrentLSN returns the LSN of the most recently appended entry.
func (l *Log) CurrentLSN() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLSN
}

// Close fsyncs and closes the current segment.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.segment != nil {
		if err := l.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := l.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		l.segment = nil
	}

	return nil
}

// ReplayAll reads every entry from every segment in dir, ordered by segment.
// Used at startup to rebuild the metadata tree.
func ReplayAll(dir string) ([]*Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read oplog directory: %w", err)
	}

	var segmentIDs []uint64
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if segmentID, ok := parseSegmentName(file.Name()); ok {
			segmentIDs = append(segmentIDs, segmentID)
		}
	}
	sort.Slice(segmentIDs, func(i, j int) bool { return segmentIDs[i] < segmentIDs[j] })

	var all []*Entry
	for _, segmentID := range segmentIDs {
		entries, err := ReadEntries(filepath.Join(dir, segmentName(segmentID)))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}

	return all, nil
}

// ReadEntries reads all valid entries from a single segment file. Truncated
// tails and corrupt frames end or skip the read rather than failing it, so a
// crash mid-append never blocks recovery.
func ReadEntries(segmentPath string) ([]*Entry, error) {
	file, err := os.Open(segmentPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	for {
		var length uint32
		if err := binary.Read(file, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read length: %w", err)
		}

		var crc uint32
		if err := binary.Read(file, binary.LittleEndian, &crc); err != nil {
			break
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			// Truncated write, stop reading
			break
		}

		if computed := crc32.ChecksumIEEE(payload); computed != crc {
			offset, _ := file.Seek(0, io.SeekCurrent)
			log.Printf("oplog: CRC mismatch at offset %d in %s, skipping entry", offset-int64(length+8), segmentPath)
			continue
		}

		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}

		entries = append(entries, &entry)
	}

	return entries, nil
}
