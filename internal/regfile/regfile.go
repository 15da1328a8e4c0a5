// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package regfile persists a Modbus data model in a memory-mapped file,
// so a standalone local slave keeps its state across restarts without
// running a database. Register values are read and written as
// big-endian bytes directly against the mapped slice: no unsafe
// pointer casts, so the file format is portable across host
// endianness.
package regfile

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/lattice-io/modbus-engine/mbcore"
	"github.com/lattice-io/modbus-engine/slave"
)

// Table sizes cover the full 16-bit Modbus address space. Coils and
// discrete inputs pack one bit per address; holding and input
// registers are two bytes per address, big-endian.
const (
	numAddresses = 1 << 16

	sizeCoils    = numAddresses / 8
	sizeDiscrete = numAddresses / 8
	sizeHolding  = numAddresses * 2
	sizeInput    = numAddresses * 2
	totalSize    = sizeCoils + sizeDiscrete + sizeHolding + sizeInput

	offsetCoils    = 0
	offsetDiscrete = offsetCoils + sizeCoils
	offsetHolding  = offsetDiscrete + sizeDiscrete
	offsetInput    = offsetHolding + sizeHolding
)

// File is a Modbus register file backed by a memory-mapped file on
// disk. The OS owns paging the data back to disk; Sync forces it
// explicitly for callers that want persistence guarantees at known
// points (e.g. after every write, or on a timer).
type File struct {
	path string
	file *os.File
	data mmap.MMap
}

// Open maps path, creating and zero-filling it if it does not exist or
// is the wrong size.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("regfile: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("regfile: stat %s: %w", path, err)
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("regfile: resize %s: %w", path, err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("regfile: mmap %s: %w", path, err)
	}

	return &File{path: path, file: f, data: data}, nil
}

// Sync flushes the mapped pages to disk.
func (rf *File) Sync() error {
	return rf.data.Flush()
}

// Close unmaps and closes the backing file.
func (rf *File) Close() error {
	var err error
	if e := rf.data.Unmap(); e != nil {
		err = e
	}
	if e := rf.file.Close(); e != nil {
		err = e
	}
	return err
}

func bitGet(bytes []byte, base int, addr uint16) int {
	byteIdx := base + int(addr)/8
	bit := addr % 8
	if bytes[byteIdx]&(1<<bit) != 0 {
		return 1
	}
	return 0
}

func bitSet(bytes []byte, base int, addr uint16, value int) {
	byteIdx := base + int(addr)/8
	bit := addr % 8
	if value != 0 {
		bytes[byteIdx] |= 1 << bit
	} else {
		bytes[byteIdx] &^= 1 << bit
	}
}

func regGet(bytes []byte, base int, addr uint16) uint16 {
	off := base + int(addr)*2
	return mbcore.GetUint16(bytes[off : off+2])
}

func regSet(bytes []byte, base int, addr uint16, value uint16) {
	off := base + int(addr)*2
	mbcore.PutUint16(bytes[off:off+2], value)
}

// ReadCoil returns the coil at addr.
func (rf *File) ReadCoil(addr uint16) (int, error) {
	return bitGet(rf.data, offsetCoils, addr), nil
}

// WriteCoil sets the coil at addr.
func (rf *File) WriteCoil(addr uint16, bit int) error {
	bitSet(rf.data, offsetCoils, addr, bit)
	return nil
}

// ReadDiscrete returns the discrete input at addr.
func (rf *File) ReadDiscrete(addr uint16) (int, error) {
	return bitGet(rf.data, offsetDiscrete, addr), nil
}

// WriteDiscrete sets the discrete input at addr. Real discrete inputs
// are read-only from the wire; this exists so a test harness or a
// simulated input source can drive the table.
func (rf *File) WriteDiscrete(addr uint16, bit int) error {
	bitSet(rf.data, offsetDiscrete, addr, bit)
	return nil
}

// ReadHolding returns the holding register at addr.
func (rf *File) ReadHolding(addr uint16) (uint16, error) {
	return regGet(rf.data, offsetHolding, addr), nil
}

// WriteHolding sets the holding register at addr.
func (rf *File) WriteHolding(addr uint16, reg uint16) error {
	regSet(rf.data, offsetHolding, addr, reg)
	return nil
}

// ReadInput returns the input register at addr.
func (rf *File) ReadInput(addr uint16) (uint16, error) {
	return regGet(rf.data, offsetInput, addr), nil
}

// WriteInput sets the input register at addr. Real input registers
// come from a physical sensor; this exists for the same reason as
// WriteDiscrete.
func (rf *File) WriteInput(addr uint16, reg uint16) error {
	regSet(rf.data, offsetInput, addr, reg)
	return nil
}

// Callbacks builds a slave.Callbacks table backed by rf.
func (rf *File) Callbacks() slave.Callbacks {
	return slave.Callbacks{
		ReadDiscrete: rf.ReadDiscrete,
		ReadCoil:     rf.ReadCoil,
		WriteCoil:    rf.WriteCoil,
		ReadInput:    rf.ReadInput,
		ReadHolding:  rf.ReadHolding,
		WriteHolding: rf.WriteHolding,
	}
}
