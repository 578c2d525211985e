package models

// BaseModel 包含主键以及通用的创建/更新时间戳
type BaseModel struct {
	ID uint `json:"id" form:"id" gorm:"primarykey"`
	TimestampedRecord
}
