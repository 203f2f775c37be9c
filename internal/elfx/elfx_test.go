package elfx

import (
	"encoding/binary"
	"testing"

	"binsim-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildMinimalElf64 构造一个可被 debug/elf 解析的最小 64 位小端 ELF：
// 一个 PT_LOAD 段、.text 与 .shstrtab 两个有效节。
func buildMinimalElf64() []byte {
	const (
		phOff     = 64
		textOff   = 120
		textSize  = 16
		strtabOff = 136
		shOff     = 160
		fileSize  = shOff + 3*64
	)
	shstrtab := []byte("\x00.text\x00.shstrtab\x00")

	buf := make([]byte, fileSize)
	le := binary.LittleEndian

	// e_ident
	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0})
	le.PutUint16(buf[16:], 2)  // e_type = ET_EXEC
	le.PutUint16(buf[18:], 62) // e_machine = EM_X86_64
	le.PutUint32(buf[20:], 1)  // e_version
	le.PutUint64(buf[24:], 0x401000)
	le.PutUint64(buf[32:], phOff)
	le.PutUint64(buf[40:], shOff)
	le.PutUint32(buf[48:], 0)
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[54:], 56)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], 64)
	le.PutUint16(buf[60:], 3)
	le.PutUint16(buf[62:], 2)

	// program header: PT_LOAD, R+E
	le.PutUint32(buf[phOff:], 1)
	le.PutUint32(buf[phOff+4:], 5)
	le.PutUint64(buf[phOff+8:], 0)
	le.PutUint64(buf[phOff+16:], 0x400000)
	le.PutUint64(buf[phOff+24:], 0x400000)
	le.PutUint64(buf[phOff+32:], fileSize)
	le.PutUint64(buf[phOff+40:], fileSize)
	le.PutUint64(buf[phOff+48:], 0x1000)

	copy(buf[strtabOff:], shstrtab)

	writeSection := func(idx int, name uint32, typ uint32, flags, addr, off, size, align uint64) {
		base := shOff + idx*64
		le.PutUint32(buf[base:], name)
		le.PutUint32(buf[base+4:], typ)
		le.PutUint64(buf[base+8:], flags)
		le.PutUint64(buf[base+16:], addr)
		le.PutUint64(buf[base+24:], off)
		le.PutUint64(buf[base+32:], size)
		le.PutUint64(buf[base+48:], align)
	}
	writeSection(1, 1, 1, 6, 0x401000, textOff, textSize, 16)        // .text
	writeSection(2, 7, 3, 0, 0, strtabOff, uint64(len(shstrtab)), 1) // .shstrtab

	return buf
}

func TestParseMinimalElf(t *testing.T) {
	raw := buildMinimalElf64()
	f, err := Parse(raw)
	require.NoError(t, err)

	h := f.Header
	assert.Equal(t, byte(1), h.Class)
	assert.Equal(t, byte(0), h.Data)
	assert.Equal(t, uint16(2), h.Type)
	assert.Equal(t, uint16(62), h.Machine)
	assert.Equal(t, uint64(0x401000), h.Entry)
	assert.Equal(t, uint64(64), h.PhOff)
	assert.Equal(t, uint16(1), h.PhNum)
	assert.Equal(t, uint16(3), h.ShNum)
	assert.Equal(t, uint16(2), h.ShStrNdx)
}

func TestHeaderVector(t *testing.T) {
	f, err := Parse(buildMinimalElf64())
	require.NoError(t, err)

	vec := f.HeaderVector()
	require.Len(t, vec, 18)
	assert.Equal(t, 1.0, vec[0])  // class: 64 位
	assert.Equal(t, 0.0, vec[1])  // data: LSB
	assert.Equal(t, 2.0, vec[5])  // e_type
	assert.Equal(t, 62.0, vec[6]) // e_machine
	assert.Equal(t, float64(0x401000), vec[8])
	assert.Equal(t, 3.0, vec[16]) // e_shnum
	assert.Equal(t, 2.0, vec[17]) // e_shstrndx
}

func TestProgramHeaders(t *testing.T) {
	f, err := Parse(buildMinimalElf64())
	require.NoError(t, err)

	phs := f.ProgramHeaders()
	require.Len(t, phs, 1)
	assert.Equal(t, "LOAD", phs[0].Type)
	assert.Equal(t, "RE", phs[0].Flags)
	assert.Equal(t, uint64(0x400000), phs[0].Vaddr)
	assert.Equal(t, uint64(0x1000), phs[0].Align)
}

func TestSectionSizeVector(t *testing.T) {
	raw := buildMinimalElf64()
	f, err := Parse(raw)
	require.NoError(t, err)

	vec := f.SectionSizeVector()
	require.Len(t, vec, 6)
	assert.InDelta(t, 16.0/float64(len(raw)), vec[0], 1e-12) // .text
	assert.Equal(t, 0.0, vec[1])                             // .rodata 缺失
	assert.InDelta(t, 17.0/float64(len(raw)), vec[5], 1e-12) // .shstrtab
}

func TestSectionSizeVectorOverflowDeclared(t *testing.T) {
	f, err := Parse(buildMinimalElf64())
	require.NoError(t, err)

	// 人为声明一个越界的节表，向量应当整体归零
	f.Header.ShOff = f.FileSize
	f.Header.ShNum = 100
	f.Header.ShEntSize = 64
	assert.Equal(t, make([]float64, 6), f.SectionSizeVector())
}

func TestParseFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"空文件", nil},
		{"全零头部", make([]byte, 128)},
		{"魔数损坏", append([]byte{0x7f, 'X', 'L', 'F'}, make([]byte, 60)...)},
		{"截断的头部", buildMinimalElf64()[:30]},
		{"未知 class", func() []byte {
			raw := buildMinimalElf64()
			raw[4] = 9
			return raw
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw)
			assert.ErrorIs(t, err, apperr.ErrParseFailure)
		})
	}
}
