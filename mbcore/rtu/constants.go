// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is the smallest legal RTU frame: address + fc + one
	// payload byte + 2 CRC bytes.
	MinSize = 4
	// MaxSize is the largest legal RTU frame.
	MaxSize = 256
)
