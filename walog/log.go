// Copyright 2024 The Kudu-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package walog is the tablet's write-ahead log: a single append-only file
// of framed, CRC-checked records, each either a REPLICATE (the operation
// about to be applied) or a COMMIT (confirmation that Apply finished),
// exactly the two record kinds bootstrap (spec §4.E) must be able to tell
// apart and pair up. The framing is grounded on gyuho-db's wal package
// (length-prefixed records with a CRC32 trailer) simplified to a single
// growing file: this module keeps exactly one tablet, so the segment
// rotation and multi-file torn-write detection gyuho-db's WAL performs has
// no work to do here.
package walog

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/kudu-go/master/masterpb"
	"github.com/kudu-go/master/status"
)

// EntryKind distinguishes a REPLICATE record from a COMMIT record in the
// log's frame header.
type EntryKind uint8

const (
	ReplicateEntry EntryKind = 1
	CommitEntry    EntryKind = 2
)

// Entry is one decoded frame of the log: exactly one of Replicate/Commit is
// populated, matching Kind.
type Entry struct {
	Kind      EntryKind
	Replicate masterpb.ReplicateMsg
	Commit    masterpb.CommitMsg
}

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Writer appends framed entries to a single log file.
type Writer struct {
	f  *os.File
	bw *bufio.Writer
}

// OpenWriter opens path for appending, creating it if necessary.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, status.Wrap(err, status.IOError, "open log for append")
	}
	return &Writer{f: f, bw: bufio.NewWriter(f)}, nil
}

// AppendReplicate writes a REPLICATE frame.
func (w *Writer) AppendReplicate(msg masterpb.ReplicateMsg) error {
	payload, err := msg.Marshal()
	if err != nil {
		return status.Wrap(err, status.Corruption, "encode REPLICATE entry")
	}
	return w.appendFrame(ReplicateEntry, payload)
}

// AppendCommit writes a COMMIT frame.
func (w *Writer) AppendCommit(msg masterpb.CommitMsg) error {
	payload, err := msg.Marshal()
	if err != nil {
		return status.Wrap(err, status.Corruption, "encode COMMIT entry")
	}
	return w.appendFrame(CommitEntry, payload)
}

// frame layout: [4 byte length][1 byte kind][payload][4 byte crc32 of kind+payload]
func (w *Writer) appendFrame(kind EntryKind, payload []byte) error {
	body := make([]byte, 1+len(payload))
	body[0] = byte(kind)
	copy(body[1:], payload)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.bw.Write(lenBuf[:]); err != nil {
		return status.Wrap(err, status.IOError, "write log frame length")
	}
	if _, err := w.bw.Write(body); err != nil {
		return status.Wrap(err, status.IOError, "write log frame body")
	}
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.Checksum(body, crcTable))
	if _, err := w.bw.Write(crcBuf[:]); err != nil {
		return status.Wrap(err, status.IOError, "write log frame crc")
	}
	return nil
}

// Sync flushes buffered writes and fsyncs the underlying file, the
// durability point a COMMIT must not be acknowledged before.
func (w *Writer) Sync() error {
	if err := w.bw.Flush(); err != nil {
		return status.Wrap(err, status.IOError, "flush log")
	}
	if err := w.f.Sync(); err != nil {
		return status.Wrap(err, status.IOError, "fsync log")
	}
	return nil
}

// Close syncs and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

// Reader reads framed entries back out of a log file in order, used by
// bootstrap (spec §4.E) to replay a tablet's history.
type Reader struct {
	br *bufio.Reader
	f  *os.File
}

// OpenReader opens path for sequential replay.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, status.Wrap(err, status.IOError, "open log for read")
	}
	return &Reader{br: bufio.NewReader(f), f: f}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.f.Close() }

// Next reads and validates the next frame, returning io.EOF once the log is
// exhausted. A truncated final frame (the result of a crash mid-append) is
// also reported as io.EOF, since everything fully written before it is
// still a valid prefix of the log.
func (r *Reader) Next() (Entry, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.br, lenBuf[:]); err != nil {
		return Entry{}, io.EOF
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Entry{}, io.EOF
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return Entry{}, io.EOF
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r.br, crcBuf[:]); err != nil {
		return Entry{}, io.EOF
	}
	want := binary.BigEndian.Uint32(crcBuf[:])
	if got := crc32.Checksum(body, crcTable); got != want {
		return Entry{}, status.Corruptionf("log entry checksum mismatch: got %08x want %08x", got, want)
	}

	if len(body) < 1 {
		return Entry{}, status.Corruptionf("log entry missing kind byte")
	}
	kind := EntryKind(body[0])
	payload := body[1:]

	switch kind {
	case ReplicateEntry:
		var msg masterpb.ReplicateMsg
		if err := msg.Unmarshal(payload); err != nil {
			return Entry{}, status.Wrap(err, status.Corruption, "decode REPLICATE entry")
		}
		return Entry{Kind: ReplicateEntry, Replicate: msg}, nil
	case CommitEntry:
		var msg masterpb.CommitMsg
		if err := msg.Unmarshal(payload); err != nil {
			return Entry{}, status.Wrap(err, status.Corruption, "decode COMMIT entry")
		}
		return Entry{Kind: CommitEntry, Commit: msg}, nil
	default:
		return Entry{}, status.Corruptionf("log entry has unknown kind %d", kind)
	}
}
