// Copyright 2021 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package encoding

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteString(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	require.NoError(t, WriteString(buf, "0195153448"))
	require.NoError(t, WriteString(buf, ""))
	s, err := ReadString(buf)
	require.NoError(t, err)
	assert.Equal(t, "0195153448", s)
	s, err = ReadString(buf)
	require.NoError(t, err)
	assert.Empty(t, s)
	_, err = ReadString(buf)
	assert.Error(t, err)
}

func TestReadTruncatedBytes(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	require.NoError(t, WriteBytes(buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-1])
	_, err := ReadBytes(truncated)
	assert.Error(t, err)
}

func TestReadBytesLength(t *testing.T) {
	for _, length := range []int32{-1, MaxBytesLength + 1, math.MaxInt32} {
		buf := bytes.NewBuffer(nil)
		require.NoError(t, binary.Write(buf, binary.LittleEndian, length))
		_, err := ReadBytes(buf)
		assert.True(t, errors.Is(err, errors.NotValid), err)
	}
	err := WriteBytes(bytes.NewBuffer(nil), make([]byte, MaxBytesLength+1))
	assert.True(t, errors.Is(err, errors.NotValid), err)
}

func TestWriteGob(t *testing.T) {
	type params struct {
		Rank int
		Reg  float32
	}
	buf := bytes.NewBuffer(nil)
	require.NoError(t, WriteGob(buf, params{Rank: 10, Reg: 0.1}))
	var p params
	require.NoError(t, ReadGob(buf, &p))
	assert.Equal(t, params{Rank: 10, Reg: 0.1}, p)
}

func TestFormatFloat32(t *testing.T) {
	assert.Equal(t, "1.5", FormatFloat32(1.5))
	assert.Equal(t, "0.1", FormatFloat32(0.1))
}
