// Copyright 2026 The ESTCORP authors
//   This file is part of ESTCORP.
//
//  ESTCORP is free software: you can redistribute it and/or modify
//  it under the terms of the GNU General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  ESTCORP is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU General Public License for more details.
//
//  You should have received a copy of the GNU General Public License
//  along with ESTCORP.  If not, see <https://www.gnu.org/licenses/>.

// Package shard implements selection of a subset of documents
// by `id mod divisor == remainder` so that independently launched
// processes can work on disjoint parts of a collection.
package shard

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrInvalidBlock = errors.New("invalid shard block")

	blockRegexp = regexp.MustCompile(`^(\d+)[,:;](\d+)$`)
)

// Block selects documents whose id satisfies id % Divisor == Remainder.
// A nil *Block selects all documents.
type Block struct {
	Divisor   int `json:"divisor"`
	Remainder int `json:"remainder"`
}

func (b *Block) Contains(id int) bool {
	if b == nil || b.Divisor <= 1 {
		return true
	}
	return id%b.Divisor == b.Remainder
}

// IsAll tests whether the block selects every document
func (b *Block) IsAll() bool {
	return b == nil || b.Divisor <= 1
}

func (b *Block) String() string {
	if b == nil {
		return "all"
	}
	return fmt.Sprintf("%d,%d", b.Divisor, b.Remainder)
}

// ParseBlock parses values like `4,1`, `4:1` or `4;1`.
func ParseBlock(s string) (*Block, error) {
	m := blockRegexp.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %s (expected DIVISOR,REMAINDER)", ErrInvalidBlock, s)
	}
	div, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlock, err)
	}
	rem, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidBlock, err)
	}
	if div <= 0 {
		return nil, fmt.Errorf("%w: divisor must be positive, got %d", ErrInvalidBlock, div)
	}
	if rem >= div {
		return nil, fmt.Errorf(
			"%w: remainder %d must be smaller than divisor %d", ErrInvalidBlock, rem, div)
	}
	return &Block{Divisor: div, Remainder: rem}, nil
}

// FindBlockArg searches positional arguments for a block specification.
// It returns the block (nil if none found) and the remaining arguments.
// An argument looking like a block but with invalid values is reported
// as an error.
func FindBlockArg(args []string) (*Block, []string, error) {
	var ans *Block
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		if ans == nil && blockRegexp.MatchString(arg) {
			b, err := ParseBlock(arg)
			if err != nil {
				return nil, nil, err
			}
			ans = b
			continue
		}
		rest = append(rest, arg)
	}
	return ans, rest, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Overlaps tests whether there is at least one id selected by both blocks.
// By the Chinese remainder theorem, x ≡ r1 (mod d1) and x ≡ r2 (mod d2)
// have a common solution iff r1 ≡ r2 (mod gcd(d1, d2)).
func Overlaps(a, b *Block) bool {
	if a.IsAll() || b.IsAll() {
		return true
	}
	g := gcd(a.Divisor, b.Divisor)
	return a.Remainder%g == b.Remainder%g
}
