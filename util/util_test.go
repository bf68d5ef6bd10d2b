package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(4096*4+4095, 4096))
	assert.Equal(uint64(5), RoundUp(4096*4+1, 4096), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(false, SumOverflows(1, 1<<64-2))
	assert.Equal(false, SumOverflows(1<<32, 1<<32))

	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<64-1, 1))
	assert.Equal(true, SumOverflows(2, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestCloneByteSlice(t *testing.T) {
	assert := assert.New(t)
	b := []byte{1, 2, 3}
	c := CloneByteSlice(b)
	assert.Equal(b, c)
	c[0] = 9
	assert.Equal(byte(1), b[0], "clone should not alias")
}

func TestSetDebugLevel(t *testing.T) {
	assert := assert.New(t)
	old := SetDebugLevel(5)
	defer SetDebugLevel(old)
	assert.Equal(uint64(5), DebugLevel())
	DPrintf(10, "dropped %d\n", 10)
	DPrintf(1, "kept %d\n", 1)
}

func TestDPrintfNewline(t *testing.T) {
	assert := assert.New(t)
	var out bytes.Buffer
	old := Logger().Out
	Logger().Out = &out
	defer func() { Logger().Out = old }()
	oldLevel := SetDebugLevel(5)
	defer SetDebugLevel(oldLevel)

	DPrintf(10, "dropped %d\n", 10)
	DPrintf(1, "kept %d\n", 1)
	line := out.String()
	assert.Contains(line, `msg="kept 1"`)
	assert.NotContains(line, `\n"`)
	assert.NotContains(line, "dropped")
}
