package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TimestampedRecord 记录创建与更新时间，嵌入到需要持久化的模型中使用
//
// created_at 只允许在插入时写入（<-:create），之后任何更新都会被 GORM 忽略。
// GORM 自带的 autoCreateTime/autoUpdateTime 在这两列上关闭，时间戳只由下面的钩子写入。
type TimestampedRecord struct {
	CreatedAt time.Time `json:"created_at" form:"-" gorm:"column:created_at;<-:create;autoCreateTime:false;index"`
	UpdatedAt time.Time `json:"updated_at" form:"-" gorm:"column:updated_at;autoUpdateTime:false;index"`
}

// OnBeforeCreate 首次写入前调用，读取一次当前时间同时赋给创建时间和更新时间
func (r *TimestampedRecord) OnBeforeCreate() {
	r.stampCreate(time.Now())
}

// OnBeforeUpdate 每次更新前调用，只刷新更新时间
func (r *TimestampedRecord) OnBeforeUpdate() {
	r.stampUpdate(time.Now())
}

// BeforeCreate 实现 GORM 的 BeforeCreate 钩子，时间取自会话的 NowFunc
func (r *TimestampedRecord) BeforeCreate(tx *gorm.DB) error {
	r.stampCreate(sessionNow(tx))
	return nil
}

// BeforeUpdate 实现 GORM 的 BeforeUpdate 钩子
func (r *TimestampedRecord) BeforeUpdate(tx *gorm.DB) error {
	r.stampUpdate(sessionNow(tx))
	if tx == nil || tx.Statement == nil {
		return nil
	}

	// Updates(map) / Update(column, value) 不读取模型字段，模型通常也没有从库中加载，
	// 由数据库比较已存储的 updated_at，保证不回退
	if _, ok := tx.Statement.Dest.(map[string]interface{}); ok {
		tx.Statement.SetColumn(ColumnUpdatedAt, monotonicUpdatedAt(r.UpdatedAt))
		return nil
	}
	tx.Statement.SetColumn(ColumnUpdatedAt, r.UpdatedAt)
	return nil
}

// monotonicUpdatedAt 取已存储值与 now 中较大的一个
func monotonicUpdatedAt(now time.Time) clause.Expr {
	return gorm.Expr("CASE WHEN "+ColumnUpdatedAt+" > ? THEN "+ColumnUpdatedAt+" ELSE ? END", now, now)
}

func (r *TimestampedRecord) stampCreate(now time.Time) {
	r.CreatedAt = now
	r.UpdatedAt = now
}

// stampUpdate 时钟回拨时保持 updated_at 单调不减
func (r *TimestampedRecord) stampUpdate(now time.Time) {
	if now.Before(r.UpdatedAt) {
		now = r.UpdatedAt
	}
	r.UpdatedAt = now
}

func sessionNow(tx *gorm.DB) time.Time {
	if tx != nil && tx.Config != nil && tx.NowFunc != nil {
		return tx.NowFunc()
	}
	return time.Now()
}

const (
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
)

// IsTimestamped 判断模型是否嵌入了 TimestampedRecord
func IsTimestamped(model interface{}) bool {
	_, ok := model.(interface {
		BeforeCreate(*gorm.DB) error
		OnBeforeCreate()
	})
	return ok
}
