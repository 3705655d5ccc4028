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

package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBlock(t *testing.T) {
	for _, v := range []string{"4,1", "4:1", "4;1"} {
		b, err := ParseBlock(v)
		require.NoError(t, err)
		assert.Equal(t, 4, b.Divisor)
		assert.Equal(t, 1, b.Remainder)
	}
}

func TestParseBlockInvalid(t *testing.T) {
	for _, v := range []string{"0,0", "3,3", "3,5", "a,b", "3", "", "-1,0"} {
		_, err := ParseBlock(v)
		assert.ErrorIs(t, err, ErrInvalidBlock, v)
	}
}

func TestBlocksPartitionDocuments(t *testing.T) {
	for _, div := range []int{1, 2, 3, 7, 16} {
		hits := make([]int, 1000)
		for rem := 0; rem < div; rem++ {
			b := &Block{Divisor: div, Remainder: rem}
			for id := range hits {
				if b.Contains(id) {
					hits[id]++
				}
			}
		}
		for id, h := range hits {
			assert.Equal(t, 1, h, "divisor %d, id %d", div, id)
		}
	}
}

func TestNilBlockContainsAll(t *testing.T) {
	var b *Block
	assert.True(t, b.Contains(0))
	assert.True(t, b.Contains(12345))
	assert.True(t, b.IsAll())
	assert.Equal(t, "all", b.String())
}

func TestFindBlockArg(t *testing.T) {
	b, rest, err := FindBlockArg([]string{"conf.json", "10,3"})
	require.NoError(t, err)
	assert.Equal(t, &Block{Divisor: 10, Remainder: 3}, b)
	assert.Equal(t, []string{"conf.json"}, rest)

	b, rest, err = FindBlockArg([]string{"conf.json"})
	require.NoError(t, err)
	assert.Nil(t, b)
	assert.Equal(t, []string{"conf.json"}, rest)

	_, _, err = FindBlockArg([]string{"conf.json", "2,2"})
	assert.ErrorIs(t, err, ErrInvalidBlock)
}

func TestOverlaps(t *testing.T) {
	assert.False(t, Overlaps(&Block{2, 0}, &Block{2, 1}))
	assert.True(t, Overlaps(&Block{2, 0}, &Block{4, 2}))
	assert.False(t, Overlaps(&Block{2, 0}, &Block{4, 3}))
	assert.True(t, Overlaps(&Block{3, 1}, &Block{4, 2})) // 10
	assert.True(t, Overlaps(nil, &Block{4, 2}))
	assert.False(t, Overlaps(&Block{6, 1}, &Block{4, 2}))
}

func TestOverlapsMatchesBruteForce(t *testing.T) {
	for d1 := 1; d1 <= 6; d1++ {
		for d2 := 1; d2 <= 6; d2++ {
			for r1 := 0; r1 < d1; r1++ {
				for r2 := 0; r2 < d2; r2++ {
					a := &Block{d1, r1}
					b := &Block{d2, r2}
					var common bool
					for id := 0; id < d1*d2; id++ {
						if a.Contains(id) && b.Contains(id) {
							common = true
							break
						}
					}
					assert.Equal(t, common, Overlaps(a, b), "%v vs %v", a, b)
				}
			}
		}
	}
}
