package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ShortcutKey 截图快捷键在偏好表中的键名
const ShortcutKey = "capture.shortcut"

// PreferenceStore 基于 SQLite 的键值偏好存储
//
// 写入为 last-writer-wins，不做额外加锁。
type PreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore 创建偏好存储
//
// 调用前需要已执行 RunMigrations。
func NewPreferenceStore(db *sql.DB) *PreferenceStore {
	return &PreferenceStore{db: db}
}

// OpenPreferenceStore 打开数据库、执行迁移并返回偏好存储
//
// 返回的 close 函数用于关闭底层连接。
func OpenPreferenceStore(path string) (*PreferenceStore, func() error, error) {
	db, err := NewSQLiteDB(SQLiteConfig{Path: path, MaxOpenConns: 1})
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return NewPreferenceStore(db), db.Close, nil
}

// Get 读取偏好值，不存在时返回 (nil, false, nil)
func (s *PreferenceStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("读取偏好 %s 失败: %w", key, err)
	}
	return value, true, nil
}

// Set 写入偏好值
func (s *PreferenceStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("写入偏好 %s 失败: %w", key, err)
	}
	return nil
}

// Delete 删除偏好值，不存在时不报错
func (s *PreferenceStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM preferences WHERE key = ?", key); err != nil {
		return fmt.Errorf("删除偏好 %s 失败: %w", key, err)
	}
	return nil
}

// Key 返回绑定到单个键的存储视图
func (s *PreferenceStore) Key(key string) *KeyStore {
	return &KeyStore{prefs: s, key: key}
}

// KeyStore 单个偏好键的读写视图，满足 shortcut.Store
type KeyStore struct {
	prefs *PreferenceStore
	key   string
}

// Load 读取值，不存在时返回 (nil, nil)
func (k *KeyStore) Load(ctx context.Context) ([]byte, error) {
	value, _, err := k.prefs.Get(ctx, k.key)
	return value, err
}

// Save 写入值
func (k *KeyStore) Save(ctx context.Context, data []byte) error {
	return k.prefs.Set(ctx, k.key, data)
}
