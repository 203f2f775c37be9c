// Package testutil 提供测试用的最小 ELF 构造器。
package testutil

import "encoding/binary"

// BuildElf64 构造一个可被 debug/elf 解析的最小 64 位小端 ELF，
// 带一个 PT_LOAD 段、.text 与 .shstrtab 节。payload 追加在文件尾部，
// 用于制造内容（与哈希）不同的变体。
func BuildElf64(payload []byte) []byte {
	const (
		phOff     = 64
		textOff   = 120
		textSize  = 16
		strtabOff = 136
		shOff     = 160
		baseSize  = shOff + 3*64
	)
	shstrtab := []byte("\x00.text\x00.shstrtab\x00")

	buf := make([]byte, baseSize, baseSize+len(payload))
	le := binary.LittleEndian

	copy(buf, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0})
	le.PutUint16(buf[16:], 2)  // ET_EXEC
	le.PutUint16(buf[18:], 62) // EM_X86_64
	le.PutUint32(buf[20:], 1)
	le.PutUint64(buf[24:], 0x401000)
	le.PutUint64(buf[32:], phOff)
	le.PutUint64(buf[40:], shOff)
	le.PutUint16(buf[52:], 64)
	le.PutUint16(buf[54:], 56)
	le.PutUint16(buf[56:], 1)
	le.PutUint16(buf[58:], 64)
	le.PutUint16(buf[60:], 3)
	le.PutUint16(buf[62:], 2)

	le.PutUint32(buf[phOff:], 1)
	le.PutUint32(buf[phOff+4:], 5)
	le.PutUint64(buf[phOff+16:], 0x400000)
	le.PutUint64(buf[phOff+24:], 0x400000)
	le.PutUint64(buf[phOff+32:], baseSize)
	le.PutUint64(buf[phOff+40:], baseSize)
	le.PutUint64(buf[phOff+48:], 0x1000)

	copy(buf[strtabOff:], shstrtab)

	writeSection := func(idx int, name, typ uint32, flags, addr, off, size, align uint64) {
		base := shOff + idx*64
		le.PutUint32(buf[base:], name)
		le.PutUint32(buf[base+4:], typ)
		le.PutUint64(buf[base+8:], flags)
		le.PutUint64(buf[base+16:], addr)
		le.PutUint64(buf[base+24:], off)
		le.PutUint64(buf[base+32:], size)
		le.PutUint64(buf[base+48:], align)
	}
	writeSection(1, 1, 1, 6, 0x401000, textOff, textSize, 16)
	writeSection(2, 7, 3, 0, 0, strtabOff, uint64(len(shstrtab)), 1)

	return append(buf, payload...)
}
