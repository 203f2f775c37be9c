// Package elfx 解析 ELF 文件的头部、节表与程序头表。
//
// debug/elf 不暴露原始头部的偏移与计数字段（e_phoff、e_shoff、e_ehsize 等），
// 因此头部由本包直接按字节序解码，节与段的遍历则复用 debug/elf。
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"strings"

	"binsim-go/internal/apperr"
	"binsim-go/internal/model"
)

// Header 保存 ELF 头部的全部原始字段。
type Header struct {
	Class      byte // 0 = 32 位, 1 = 64 位
	Data       byte // 0 = LSB, 1 = MSB
	Version    byte
	OSABI      byte
	ABIVersion byte

	Type        uint16
	Machine     uint16
	FileVersion uint32
	Entry       uint64
	PhOff       uint64
	ShOff       uint64
	Flags       uint32
	EhSize      uint16
	PhEntSize   uint16
	PhNum       uint16
	ShEntSize   uint16
	ShNum       uint16
	ShStrNdx    uint16
}

// Section 描述一个节及其在文件中的位置。
type Section struct {
	Name   string
	Type   uint32
	Offset uint64
	Size   uint64
}

// File 是一次成功解析的结果。
type File struct {
	Header   Header
	FileSize uint64

	ef *elf.File
}

const headerMinLen = 52 // 32 位 ELF 头部长度；64 位为 64 字节

// Parse 解析原始字节。任何畸形输入（魔数缺失、截断、未知 class）
// 都返回包装了 ErrParseFailure 的错误，调用方据此降级处理。
func Parse(raw []byte) (*File, error) {
	hdr, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrParseFailure, err)
	}

	return &File{
		Header:   *hdr,
		FileSize: uint64(len(raw)),
		ef:       ef,
	}, nil
}

func parseHeader(raw []byte) (*Header, error) {
	if len(raw) < headerMinLen {
		return nil, fmt.Errorf("%w: 文件长度 %d 小于 ELF 头部", apperr.ErrParseFailure, len(raw))
	}
	if !bytes.Equal(raw[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return nil, fmt.Errorf("%w: 缺少 ELF 魔数", apperr.ErrParseFailure)
	}

	class := raw[elf.EI_CLASS]
	data := raw[elf.EI_DATA]
	if class != byte(elf.ELFCLASS32) && class != byte(elf.ELFCLASS64) {
		return nil, fmt.Errorf("%w: 未知 class %d", apperr.ErrParseFailure, class)
	}
	if data != byte(elf.ELFDATA2LSB) && data != byte(elf.ELFDATA2MSB) {
		return nil, fmt.Errorf("%w: 未知字节序 %d", apperr.ErrParseFailure, data)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if data == byte(elf.ELFDATA2MSB) {
		order = binary.BigEndian
	}

	hdr := &Header{
		Version:    raw[elf.EI_VERSION],
		OSABI:      raw[elf.EI_OSABI],
		ABIVersion: raw[elf.EI_ABIVERSION],
		Type:       order.Uint16(raw[16:]),
		Machine:    order.Uint16(raw[18:]),
	}
	if class == byte(elf.ELFCLASS64) {
		hdr.Class = 1
	}
	if data == byte(elf.ELFDATA2MSB) {
		hdr.Data = 1
	}
	hdr.FileVersion = order.Uint32(raw[20:])

	if class == byte(elf.ELFCLASS64) {
		if len(raw) < 64 {
			return nil, fmt.Errorf("%w: 64 位头部被截断", apperr.ErrParseFailure)
		}
		hdr.Entry = order.Uint64(raw[24:])
		hdr.PhOff = order.Uint64(raw[32:])
		hdr.ShOff = order.Uint64(raw[40:])
		hdr.Flags = order.Uint32(raw[48:])
		hdr.EhSize = order.Uint16(raw[52:])
		hdr.PhEntSize = order.Uint16(raw[54:])
		hdr.PhNum = order.Uint16(raw[56:])
		hdr.ShEntSize = order.Uint16(raw[58:])
		hdr.ShNum = order.Uint16(raw[60:])
		hdr.ShStrNdx = order.Uint16(raw[62:])
	} else {
		hdr.Entry = uint64(order.Uint32(raw[24:]))
		hdr.PhOff = uint64(order.Uint32(raw[28:]))
		hdr.ShOff = uint64(order.Uint32(raw[32:]))
		hdr.Flags = order.Uint32(raw[36:])
		hdr.EhSize = order.Uint16(raw[40:])
		hdr.PhEntSize = order.Uint16(raw[42:])
		hdr.PhNum = order.Uint16(raw[44:])
		hdr.ShEntSize = order.Uint16(raw[46:])
		hdr.ShNum = order.Uint16(raw[48:])
		hdr.ShStrNdx = order.Uint16(raw[50:])
	}
	return hdr, nil
}

// Sections 按节表顺序返回带名称的节列表。
func (f *File) Sections() []Section {
	out := make([]Section, 0, len(f.ef.Sections))
	for _, s := range f.ef.Sections {
		out = append(out, Section{
			Name:   s.Name,
			Type:   uint32(s.Type),
			Offset: s.Offset,
			Size:   s.Size,
		})
	}
	return out
}

// ProgramHeaders 返回程序头表，schema 与 readelf -lW 的解析结果一致。
func (f *File) ProgramHeaders() []model.ProgramHeader {
	out := make([]model.ProgramHeader, 0, len(f.ef.Progs))
	for _, p := range f.ef.Progs {
		out = append(out, model.ProgramHeader{
			Type:     progTypeString(p.Type),
			Offset:   p.Off,
			Vaddr:    p.Vaddr,
			Paddr:    p.Paddr,
			FileSize: p.Filesz,
			MemSize:  p.Memsz,
			Flags:    progFlagsString(p.Flags),
			Align:    p.Align,
		})
	}
	return out
}

// HeaderVector 按固定顺序把 18 个头部字段编码为特征向量。
func (f *File) HeaderVector() []float64 {
	h := f.Header
	return []float64{
		float64(h.Class),
		float64(h.Data),
		float64(h.Version),
		float64(h.OSABI),
		float64(h.ABIVersion),
		float64(h.Type),
		float64(h.Machine),
		float64(h.FileVersion),
		float64(h.Entry),
		float64(h.PhOff),
		float64(h.ShOff),
		float64(h.Flags),
		float64(h.EhSize),
		float64(h.PhEntSize),
		float64(h.PhNum),
		float64(h.ShEntSize),
		float64(h.ShNum),
		float64(h.ShStrNdx),
	}
}

// sectionSizeIndex 规定了节大小向量中各节的位置。
var sectionSizeIndex = map[string]int{
	".text":     0,
	".rodata":   1,
	".data":     2,
	".bss":      3,
	".symtab":   4,
	".shstrtab": 5,
}

// SectionSizeVector 返回按文件大小归一化的 6 维节大小向量。
// 缺失的节贡献 0。节表声明超出文件实际大小时返回全零向量。
func (f *File) SectionSizeVector() []float64 {
	out := make([]float64, len(sectionSizeIndex))

	// 声明的节表越界说明头部字段不可信
	tableEnd := f.Header.ShOff + uint64(f.Header.ShNum)*uint64(f.Header.ShEntSize)
	if tableEnd > f.FileSize {
		return out
	}

	for _, s := range f.ef.Sections {
		idx, ok := sectionSizeIndex[strings.TrimSpace(s.Name)]
		if !ok {
			continue
		}
		if out[idx] == 0 {
			out[idx] = float64(s.Size) / float64(f.FileSize)
		}
	}
	return out
}

// progTypeString 将段类型规范为 readelf 风格的短名（PT_LOAD -> LOAD）。
func progTypeString(t elf.ProgType) string {
	s := t.String()
	if rest, ok := strings.CutPrefix(s, "PT_"); ok {
		return rest
	}
	return s
}

// progFlagsString 以 readelf 的字母序组合权限标志（R、W、E）。
func progFlagsString(flags elf.ProgFlag) string {
	var sb strings.Builder
	if flags&elf.PF_R != 0 {
		sb.WriteByte('R')
	}
	if flags&elf.PF_W != 0 {
		sb.WriteByte('W')
	}
	if flags&elf.PF_X != 0 {
		sb.WriteByte('E')
	}
	return sb.String()
}
