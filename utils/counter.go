package utils

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// 计数器表，记录各业务表未软删除的行数，列表接口用它代替 COUNT(*)
const createCountersSQL = `
CREATE TABLE IF NOT EXISTS counters (
    name VARCHAR(255) PRIMARY KEY,
    counter INT NOT NULL DEFAULT 0
)`

// CreateCounter4Table 为指定表创建触发计数器，表必须带 deleted_at 软删除列
func CreateCounter4Table(db *Database, tableName string) error {
	if !db.DB.Migrator().HasColumn(tableName, "deleted_at") {
		return nil
	}
	if err := db.DB.Exec(createCountersSQL).Error; err != nil {
		return fmt.Errorf("failed to create counters table: %w", err)
	}

	var tmpl string
	switch db.config.Type {
	case MySQL, MariaDB, TiDB:
		tmpl = mysqlCounterTriggers
	case PostgreSQL:
		tmpl = postgresCounterTriggers
	case SQLite:
		tmpl = sqliteCounterTriggers
	default:
		return fmt.Errorf("unsupported database type: %s", db.config.Type)
	}

	triggerSQL := strings.NewReplacer("{table}", tableName).Replace(tmpl)
	if err := db.DB.Exec(triggerSQL).Error; err != nil {
		return fmt.Errorf("failed to create %s triggers for table %s: %w", db.config.Type, tableName, err)
	}
	return nil
}

// GetCounter 读取计数器，计数器不存在时返回 false
func GetCounter(db *gorm.DB, tableName string) (int64, bool) {
	var counters []int64
	if err := db.Raw("SELECT counter FROM counters WHERE name = ?", tableName).Scan(&counters).Error; err != nil {
		return 0, false
	}
	if len(counters) == 0 {
		return 0, false
	}
	return counters[0], true
}

const mysqlCounterTriggers = `
-- 初始插入数据
DELETE FROM counters WHERE name = '{table}';
INSERT INTO counters (name, counter) VALUES ('{table}', (SELECT COUNT(*) FROM {table} WHERE deleted_at = 0));

-- 删除旧的触发器
DROP TRIGGER IF EXISTS after_{table}_insert;
DROP TRIGGER IF EXISTS after_{table}_update;
DROP TRIGGER IF EXISTS after_{table}_update_restore;

CREATE TRIGGER after_{table}_insert
AFTER INSERT ON {table}
FOR EACH ROW
BEGIN
    IF NEW.deleted_at = 0 THEN
        UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
    END IF;
END;

-- 软删除
CREATE TRIGGER after_{table}_update
AFTER UPDATE ON {table}
FOR EACH ROW
BEGIN
    IF OLD.deleted_at = 0 AND NEW.deleted_at != 0 THEN
        UPDATE counters SET counter = counter - 1 WHERE name = '{table}';
    END IF;
END;

-- 恢复
CREATE TRIGGER after_{table}_update_restore
AFTER UPDATE ON {table}
FOR EACH ROW
BEGIN
    IF OLD.deleted_at != 0 AND NEW.deleted_at = 0 THEN
        UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
    END IF;
END;
`

const postgresCounterTriggers = `
DELETE FROM counters WHERE name = '{table}';
INSERT INTO counters (name, counter) VALUES ('{table}', (SELECT COUNT(*) FROM {table} WHERE deleted_at = 0));

DROP TRIGGER IF EXISTS after_{table}_insert ON {table};
DROP TRIGGER IF EXISTS after_{table}_update ON {table};
DROP TRIGGER IF EXISTS after_{table}_update_restore ON {table};

CREATE OR REPLACE FUNCTION fn_after_{table}_insert()
RETURNS TRIGGER AS $$
BEGIN
    IF NEW.deleted_at = 0 THEN
        UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER after_{table}_insert
    AFTER INSERT ON {table}
    FOR EACH ROW
    EXECUTE FUNCTION fn_after_{table}_insert();

CREATE OR REPLACE FUNCTION fn_after_{table}_update()
RETURNS TRIGGER AS $$
BEGIN
    IF OLD.deleted_at = 0 AND NEW.deleted_at != 0 THEN
        UPDATE counters SET counter = counter - 1 WHERE name = '{table}';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER after_{table}_update
    AFTER UPDATE ON {table}
    FOR EACH ROW
    EXECUTE FUNCTION fn_after_{table}_update();

CREATE OR REPLACE FUNCTION fn_after_{table}_update_restore()
RETURNS TRIGGER AS $$
BEGIN
    IF OLD.deleted_at != 0 AND NEW.deleted_at = 0 THEN
        UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
    END IF;
    RETURN NEW;
END;
$$ LANGUAGE plpgsql;

CREATE TRIGGER after_{table}_update_restore
    AFTER UPDATE ON {table}
    FOR EACH ROW
    EXECUTE FUNCTION fn_after_{table}_update_restore();
`

const sqliteCounterTriggers = `
DELETE FROM counters WHERE name = '{table}';
INSERT INTO counters (name, counter) VALUES ('{table}', (SELECT COUNT(*) FROM {table} WHERE deleted_at = 0));

DROP TRIGGER IF EXISTS after_{table}_insert;
DROP TRIGGER IF EXISTS after_{table}_update;
DROP TRIGGER IF EXISTS after_{table}_update_restore;

CREATE TRIGGER after_{table}_insert AFTER INSERT ON {table}
WHEN NEW.deleted_at = 0
BEGIN
    UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
END;

CREATE TRIGGER after_{table}_update AFTER UPDATE ON {table}
WHEN OLD.deleted_at = 0 AND NEW.deleted_at != 0
BEGIN
    UPDATE counters SET counter = counter - 1 WHERE name = '{table}';
END;

CREATE TRIGGER after_{table}_update_restore AFTER UPDATE ON {table}
WHEN OLD.deleted_at != 0 AND NEW.deleted_at = 0
BEGIN
    UPDATE counters SET counter = counter + 1 WHERE name = '{table}';
END;
`
