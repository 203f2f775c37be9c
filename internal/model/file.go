package model

// RepresentationType 枚举了可以从文件中提取并入库的表示类型。
type RepresentationType string

const (
	// ElfHeaderVector 编码 ELF 头部关键字段的定长数值向量（18 个 double）。
	ElfHeaderVector RepresentationType = "ELF_HEADER_VECTOR"
	// StringMinhash 基于可打印字符串集合的 MinHash 签名（int32 序列）。
	StringMinhash RepresentationType = "STRING_MINHASH"
	// SectionSizeVector 按文件大小归一化的 6 维节大小向量。
	SectionSizeVector RepresentationType = "SECTION_SIZE_VECTOR"
	// CodeRegionList 分类器产出的 (start,end,length,tag) 区域列表。
	CodeRegionList RepresentationType = "CODE_REGION_LIST"
	// ProgramHeaderVector 程序头表的 9 维摘要向量。
	ProgramHeaderVector RepresentationType = "PROGRAM_HEADER_VECTOR"

	// RegionCountSim 与 AvgRegionLengthSim 只作为比较结果明细的键出现，不入库。
	RegionCountSim     RepresentationType = "REGION_COUNT_SIM"
	AvgRegionLengthSim RepresentationType = "AVG_REGION_LENGTH_SIM"
	// RepNone 是权重表中的占位符，不对应任何提取器。
	RepNone RepresentationType = "NONE"
)

// FileRecord 定义了 file 表的 ORM 模型：一个入库文件及其全部表示。
// 记录在首次入库后不可变，仅由运维操作删除。
type FileRecord struct {
	ID                uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	Filename          string           `gorm:"type:varchar(255);not null;index:idx_sha_name,priority:2" json:"filename"`
	Sha256            string           `gorm:"type:char(64);not null;index:idx_sha_name,priority:1" json:"sha256"`
	ParsingSuccessful bool             `gorm:"not null;default:false" json:"parsingSuccessful"`
	Representations   []Representation `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FileRecord) TableName() string {
	return "file"
}

// Representation 定义了 representation 表的 ORM 模型。
// 每个文件对每种类型至多持有一条记录，随文件级联删除。
type Representation struct {
	ID     uint               `gorm:"primaryKey;autoIncrement"`
	Type   RepresentationType `gorm:"type:varchar(32);not null"`
	Data   []byte             `gorm:"type:longblob;not null"`
	FileID uint               `gorm:"not null;index"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Representation) TableName() string {
	return "representation"
}

// FindRepresentationByType 返回指定类型的第一条表示。
func (f *FileRecord) FindRepresentationByType(t RepresentationType) (*Representation, bool) {
	for i := range f.Representations {
		if f.Representations[i].Type == t {
			return &f.Representations[i], true
		}
	}
	return nil, false
}

// AddRepresentation 追加一条表示并建立到所属文件的反向引用。
func (f *FileRecord) AddRepresentation(t RepresentationType, data []byte) {
	f.Representations = append(f.Representations, Representation{
		Type:   t,
		Data:   data,
		FileID: f.ID,
	})
}
