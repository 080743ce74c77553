// go-pn5180
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-pn5180.
//
// go-pn5180 is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-pn5180 is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-pn5180; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package iso14443

// Protocol control bytes (PCB) for blocks carrying a CID byte. The PN5180
// driver always addresses Type B targets by CID, so bit 3 is set in every
// block it sends.
const (
	// PCBIBlock is an I-block without chaining; bit 0 is the block number.
	PCBIBlock byte = 0x0A
	// PCBIBlockChained is an I-block with the chaining bit (bit 4) set.
	PCBIBlockChained byte = 0x1A
	// PCBRBlockACK is an R(ACK) block; bit 0 is the block number.
	PCBRBlockACK byte = 0xAA
	// PCBRBlockNAK is an R(NAK) block; bit 0 is the block number. It sets
	// the NAK bit (0x10), unlike a reading of R-blocks as 0xAA|mark for both.
	PCBRBlockNAK byte = 0xBA
	// PCBSBlockDeselect is an S(DESELECT) block.
	PCBSBlockDeselect byte = 0xCA
	// PCBSBlockWTX is an S(WTX) block; one INF byte carries the WTXM.
	PCBSBlockWTX byte = 0xFA

	blockNumberBit byte = 0x01
)

// BlockKind is the closed set of block types the engine distinguishes.
type BlockKind int

const (
	// BlockUnknown is any PCB the engine does not handle.
	BlockUnknown BlockKind = iota
	// BlockI is an unchained I-block.
	BlockI
	// BlockIChained is an I-block with more data to follow.
	BlockIChained
	// BlockRACK is a positive acknowledge.
	BlockRACK
	// BlockRNAK is a negative acknowledge.
	BlockRNAK
	// BlockSDeselect is a deselect request or response.
	BlockSDeselect
	// BlockSWTX is a waiting time extension request or response.
	BlockSWTX
)

// String returns the name of the block kind.
func (k BlockKind) String() string {
	switch k {
	case BlockI:
		return "I"
	case BlockIChained:
		return "I(chained)"
	case BlockRACK:
		return "R(ACK)"
	case BlockRNAK:
		return "R(NAK)"
	case BlockSDeselect:
		return "S(DESELECT)"
	case BlockSWTX:
		return "S(WTX)"
	default:
		return "unknown"
	}
}

// Block is a decoded protocol control byte.
type Block struct {
	Kind BlockKind
	// Mark is the block number bit. Only meaningful for I- and R-blocks.
	Mark bool
}

// DecodePCB classifies a PCB. Only the CID-carrying encodings produced by
// this package are recognised; everything else is BlockUnknown.
func DecodePCB(pcb byte) Block {
	mark := pcb&blockNumberBit != 0
	switch pcb &^ blockNumberBit {
	case PCBIBlock:
		return Block{Kind: BlockI, Mark: mark}
	case PCBIBlockChained:
		return Block{Kind: BlockIChained, Mark: mark}
	case PCBRBlockACK:
		return Block{Kind: BlockRACK, Mark: mark}
	case PCBRBlockNAK:
		return Block{Kind: BlockRNAK, Mark: mark}
	}
	switch pcb {
	case PCBSBlockDeselect:
		return Block{Kind: BlockSDeselect}
	case PCBSBlockWTX:
		return Block{Kind: BlockSWTX}
	}
	return Block{Kind: BlockUnknown}
}

// IBlock returns the PCB of an I-block with the given block number.
func IBlock(mark, chained bool) byte {
	pcb := PCBIBlock
	if chained {
		pcb = PCBIBlockChained
	}
	return pcb | markBit(mark)
}

// RBlock returns the PCB of an R-block with the given block number.
func RBlock(mark, nak bool) byte {
	pcb := PCBRBlockACK
	if nak {
		pcb = PCBRBlockNAK
	}
	return pcb | markBit(mark)
}

func markBit(mark bool) byte {
	if mark {
		return blockNumberBit
	}
	return 0
}
