package models

import (
	"gorm.io/plugin/soft_delete"
)

// ctags自定义标签说明: q-查询字段, u-更新字段，o-排序字段，用于在列表和更新接口校验参数
type Member struct {
	BaseModel
	DeletedAt soft_delete.DeletedAt `json:"-" gorm:"index:i_member_deleted_at;uniqueIndex:u_member_username;"`

	Username string `json:"username" gorm:"type:varchar(64);index:i_member_username;uniqueIndex:u_member_username;" ctags:"username,q,u,o"`

	Age int `json:"age" ctags:"age,q,u,o"`

	TeamID *uint `json:"team_id" gorm:"index:i_member_team_id;" ctags:"team_id,q,u"`
}

// Team 成员所属团队
type Team struct {
	BaseModel
	DeletedAt soft_delete.DeletedAt `json:"-" gorm:"index:i_team_deleted_at;uniqueIndex:u_team_name;"`

	Name string `json:"name" gorm:"type:varchar(64);uniqueIndex:u_team_name;" ctags:"name,q,u,o"`
}

// All 返回所有需要迁移并注册路由的模型
func All() []interface{} {
	return []interface{}{Team{}, Member{}}
}
