// Package model 定义了数据库实体与核心数据结构。
package model

// ProgramHeader 表示一条 ELF 程序头（段）记录。
// 进程内解析器与外部 readelf 两种来源都产出此结构。
type ProgramHeader struct {
	Type     string
	Offset   uint64
	Vaddr    uint64
	Paddr    uint64
	FileSize uint64
	MemSize  uint64
	Flags    string
	Align    uint64
}
