package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/senutpal/synod/internal/paxos"
)

// record header: 4 byte big-endian length, 4 byte CRC-32 of the payload.
const headerSize = 8

// DefaultCompactAfter is how many records the log may hold before Save
// rewrites it down to one.
const DefaultCompactAfter = 1024

const maxRecordSize = 64 << 20

// FileStore is an append-only log of AcceptorState snapshots. Every Save
// appends one record and fsyncs before returning; the newest intact record
// is the current state. A torn record at the tail (crash mid-write) is
// dropped when the file is opened.
type FileStore struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	state        paxos.AcceptorState
	records      int
	compactAfter int

	write func(f *os.File, p []byte) (int, error)
}

func OpenFile(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		path:         path,
		file:         f,
		compactAfter: DefaultCompactAfter,
		write:        (*os.File).Write,
	}
	if err := s.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// SetCompactAfter changes the compaction threshold; n < 1 disables it.
func (s *FileStore) SetCompactAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactAfter = n
}

// recover replays the log, truncates a torn tail and positions the file
// for appending.
func (s *FileStore) recover() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var good int64
	for {
		st, n, err := readRecord(s.file)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errChecksum) {
			// only the last record may be damaged
			rest, rerr := io.Copy(io.Discard, s.file)
			if rerr != nil {
				return rerr
			}
			if errors.Is(err, errChecksum) && rest > 0 {
				return fmt.Errorf("%w: %s at offset %d", ErrCorrupt, s.path, good)
			}
			break
		}
		if err != nil {
			return fmt.Errorf("%s at offset %d: %w", s.path, good, err)
		}
		s.state = st
		s.records++
		good += n
	}

	if err := s.file.Truncate(good); err != nil {
		return err
	}
	_, err := s.file.Seek(good, io.SeekStart)
	return err
}

func (s *FileStore) Load() (paxos.AcceptorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return paxos.AcceptorState{}, ErrClosed
	}
	return s.state.Clone(), nil
}

func (s *FileStore) Save(st paxos.AcceptorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}

	if s.compactAfter > 0 && s.records >= s.compactAfter {
		if err := s.compact(st); err != nil {
			return err
		}
		s.state = st.Clone()
		return nil
	}

	buf, err := encodeRecord(st)
	if err != nil {
		return err
	}
	off, err := s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := s.write(s.file, buf); err != nil {
		return s.rewind(off, err)
	}
	if err := s.file.Sync(); err != nil {
		return s.rewind(off, err)
	}
	s.state = st.Clone()
	s.records++
	return nil
}

// rewind cuts a partly written record off the log so the next Save appends
// right after the last good one.
func (s *FileStore) rewind(off int64, cause error) error {
	if err := s.file.Truncate(off); err != nil {
		return fmt.Errorf("%w (truncate: %v)", cause, err)
	}
	if _, err := s.file.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w (seek: %v)", cause, err)
	}
	return cause
}

// compact replaces the log with a single record holding st. The new log is
// written beside the old one and renamed over it.
func (s *FileStore) compact(st paxos.AcceptorState) error {
	buf, err := encodeRecord(st)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		f.Close()
		return err
	}
	s.file.Close()
	s.file = f
	s.records = 1
	return nil
}

// syncDir makes a rename inside dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

var errChecksum = errors.New("checksum mismatch")

func encodeRecord(st paxos.AcceptorState) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(data))
	copy(buf[headerSize:], data)
	return buf, nil
}

// readRecord returns the decoded state and the number of bytes consumed.
func readRecord(r io.Reader) (paxos.AcceptorState, int64, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return paxos.AcceptorState{}, 0, err
	}
	l := binary.BigEndian.Uint32(hdr[0:4])
	sum := binary.BigEndian.Uint32(hdr[4:8])
	if l > maxRecordSize {
		return paxos.AcceptorState{}, 0, errChecksum
	}

	data := make([]byte, l)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return paxos.AcceptorState{}, 0, err
	}
	if crc32.ChecksumIEEE(data) != sum {
		return paxos.AcceptorState{}, 0, errChecksum
	}

	var st paxos.AcceptorState
	if err := json.Unmarshal(data, &st); err != nil {
		return paxos.AcceptorState{}, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return st, int64(headerSize) + int64(l), nil
}
