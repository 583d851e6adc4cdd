// Copyright 2024 The Impala-Go Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunk

import (
	"encoding/binary"
	"hash/crc32"
	"os"

	"github.com/pingcap/errors"
	"github.com/pingcap/failpoint"

	"github.com/ggy8784/Impala/pkg/types"
	"github.com/ggy8784/Impala/pkg/util/codec"
	"github.com/ggy8784/Impala/pkg/util/disk"
	"github.com/ggy8784/Impala/pkg/util/memory"
)

// WriteBufferSize is the reserved write-buffer size of a TupleStream. The
// buffer is reserved up front so Append never allocates on the hot path and
// never fails for memory reasons.
const WriteBufferSize = 64 * 1024

// blockHeaderSize is the per-block on-disk header: payload length + CRC32.
const blockHeaderSize = 8

// TupleStream is an append-only spillable stream of rows backed by a temp
// file. Each flushed block carries a CRC so torn spill files are detected on
// read. The stream supports repeated read-only scans, or a single
// delete-on-read scan that removes the file once it has drained.
type TupleStream struct {
	fields  []*types.FieldType
	numCols int

	spillDir string
	f        *os.File

	writeBuf []byte
	rowBuf   []byte

	numRows       int64
	bytesOnDisk   int64
	bytesAppended int64

	memTracker  *memory.Tracker
	diskTracker *disk.Tracker

	// read state
	prepared     bool
	deleteOnRead bool
	readOff      int64
	blockBuf     []byte
	blockPos     int
	closed       bool
}

// NewTupleStream creates a stream and reserves its write buffer against
// memTracker. The backing file is created lazily on the first flush.
func NewTupleStream(fields []*types.FieldType, spillDir string, memTracker *memory.Tracker, diskTracker *disk.Tracker) *TupleStream {
	ts := &TupleStream{
		fields:      fields,
		numCols:     len(fields),
		spillDir:    spillDir,
		writeBuf:    make([]byte, 0, WriteBufferSize),
		memTracker:  memTracker,
		diskTracker: diskTracker,
	}
	if memTracker != nil {
		memTracker.Consume(WriteBufferSize)
	}
	return ts
}

// HasWriteBuffer reports whether the reserved write buffer is present.
func (ts *TupleStream) HasWriteBuffer() bool { return ts.writeBuf != nil }

// NumRows returns the number of rows appended so far. A drained
// delete-on-read scan resets it to zero.
func (ts *TupleStream) NumRows() int64 { return ts.numRows }

// BytesOnDisk returns the bytes written to the backing file.
func (ts *TupleStream) BytesOnDisk() int64 { return ts.bytesOnDisk }

// FieldTypes returns the schema of the stream.
func (ts *TupleStream) FieldTypes() []*types.FieldType { return ts.fields }

// Append encodes row into the reserved write buffer, flushing a block to disk
// when the buffer is full. It cannot fail for memory reasons, only for I/O.
func (ts *TupleStream) Append(row Row) error {
	if ts.closed {
		return errors.New("append to closed tuple stream")
	}
	ts.rowBuf = codec.EncodeRow(ts.rowBuf[:0], row.Datums())
	if len(ts.rowBuf) > cap(ts.writeBuf) {
		// A row larger than the reserved buffer goes to disk as its own
		// block so the reservation stays bounded.
		if err := ts.flush(); err != nil {
			return err
		}
		if err := ts.writeBlock(ts.rowBuf); err != nil {
			return err
		}
	} else {
		if len(ts.writeBuf)+len(ts.rowBuf) > cap(ts.writeBuf) {
			if err := ts.flush(); err != nil {
				return err
			}
		}
		ts.writeBuf = append(ts.writeBuf, ts.rowBuf...)
	}
	ts.numRows++
	ts.bytesAppended += int64(len(ts.rowBuf))
	return nil
}

// BytesAppended returns the total encoded bytes appended to the stream,
// including rows still sitting in the write buffer.
func (ts *TupleStream) BytesAppended() int64 { return ts.bytesAppended }

// flush writes the buffered rows as one checksummed block.
func (ts *TupleStream) flush() error {
	if len(ts.writeBuf) == 0 {
		return nil
	}
	if err := ts.writeBlock(ts.writeBuf); err != nil {
		return err
	}
	ts.writeBuf = ts.writeBuf[:0]
	return nil
}

// writeBlock appends one checksummed block to the backing file.
func (ts *TupleStream) writeBlock(payload []byte) error {
	failpoint.Inject("tupleStreamFlushPanic", nil)
	if ts.f == nil {
		f, err := os.CreateTemp(ts.spillDir, "tuplestream-*.spill")
		if err != nil {
			return errors.Trace(err)
		}
		ts.f = f
	}
	var header [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := ts.f.Write(header[:]); err != nil {
		return errors.Trace(err)
	}
	if _, err := ts.f.Write(payload); err != nil {
		return errors.Trace(err)
	}
	written := int64(blockHeaderSize + len(payload))
	ts.bytesOnDisk += written
	if ts.diskTracker != nil {
		ts.diskTracker.Consume(written)
	}
	return nil
}

// PrepareForRead flushes pending writes and positions the stream at the
// first row. With deleteOnRead the backing file is removed once the scan
// drains; otherwise the stream can be prepared and scanned again.
func (ts *TupleStream) PrepareForRead(deleteOnRead bool) error {
	if ts.closed {
		return errors.New("read of closed tuple stream")
	}
	if err := ts.flush(); err != nil {
		return err
	}
	ts.prepared = true
	ts.deleteOnRead = deleteOnRead
	ts.readOff = 0
	ts.blockBuf = nil
	ts.blockPos = 0
	return nil
}

// NextChunk fills chk with decoded rows until it is full or the stream is
// exhausted. It returns eof=true once no rows remain.
func (ts *TupleStream) NextChunk(chk *Chunk) (eof bool, err error) {
	if !ts.prepared {
		return false, errors.New("tuple stream not prepared for read")
	}
	for !chk.IsFull() {
		if ts.blockPos >= len(ts.blockBuf) {
			ok, err := ts.readBlock()
			if err != nil {
				return false, err
			}
			if !ok {
				if ts.deleteOnRead {
					ts.dropFile()
				}
				ts.prepared = false
				return true, nil
			}
		}
		row := make([]types.Datum, ts.numCols)
		rest, err := codec.DecodeRow(ts.blockBuf[ts.blockPos:], ts.numCols, row)
		if err != nil {
			return false, errors.Trace(err)
		}
		ts.blockPos = len(ts.blockBuf) - len(rest)
		chk.AppendDatums(row)
	}
	return false, nil
}

func (ts *TupleStream) readBlock() (bool, error) {
	if ts.f == nil || ts.readOff >= ts.bytesOnDisk {
		return false, nil
	}
	var header [blockHeaderSize]byte
	if _, err := ts.f.ReadAt(header[:], ts.readOff); err != nil {
		return false, errors.Trace(err)
	}
	payloadLen := int(binary.LittleEndian.Uint32(header[:4]))
	wantCRC := binary.LittleEndian.Uint32(header[4:])
	if cap(ts.blockBuf) < payloadLen {
		ts.blockBuf = make([]byte, payloadLen)
	}
	ts.blockBuf = ts.blockBuf[:payloadLen]
	if _, err := ts.f.ReadAt(ts.blockBuf, ts.readOff+blockHeaderSize); err != nil {
		return false, errors.Trace(err)
	}
	if crc32.ChecksumIEEE(ts.blockBuf) != wantCRC {
		return false, errors.Errorf("tuple stream block at offset %d failed checksum", ts.readOff)
	}
	ts.readOff += int64(blockHeaderSize + payloadLen)
	ts.blockPos = 0
	return true, nil
}

func (ts *TupleStream) dropFile() {
	if ts.f == nil {
		return
	}
	name := ts.f.Name()
	_ = ts.f.Close()
	_ = os.Remove(name)
	ts.f = nil
	if ts.diskTracker != nil {
		ts.diskTracker.Release(ts.bytesOnDisk)
	}
	ts.bytesOnDisk = 0
	ts.numRows = 0
}

// Close drops the backing file and releases the write-buffer reservation.
// Idempotent.
func (ts *TupleStream) Close() {
	if ts.closed {
		return
	}
	ts.closed = true
	ts.dropFile()
	ts.blockBuf = nil
	if ts.writeBuf != nil {
		ts.writeBuf = nil
		if ts.memTracker != nil {
			ts.memTracker.Release(WriteBufferSize)
		}
	}
}
