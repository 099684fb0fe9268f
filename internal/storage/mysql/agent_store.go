package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/registry"
)

// AgentStore 实现 registry.Store。
type AgentStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewAgentStore 建立连接池并执行迁移。
func NewAgentStore(ctx context.Context, cfg Config) (*AgentStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行 MySQL 迁移失败")
	}
	return newAgentStore(db), nil
}

func newAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db, now: time.Now}
}

const upsertAgentSQL = `INSERT INTO agents
    (agent_id, kind, company_id, port, status, document, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE kind = VALUES(kind), company_id = VALUES(company_id), port = VALUES(port),
    status = VALUES(status), document = VALUES(document), updated_at = VALUES(updated_at)`

// Put 插入或更新记录。
func (s *AgentStore) Put(ctx context.Context, record registry.Record) error {
	if record.AgentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent id 为空")
	}
	document, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化 agent 记录失败")
	}
	if _, err := s.db.ExecContext(ctx, upsertAgentSQL,
		record.AgentID,
		record.Kind,
		record.CompanyID,
		record.Port,
		record.Status,
		string(document),
		record.CreatedAt,
		s.now().Unix(),
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 agent 记录失败")
	}
	return nil
}

// Get 读取单条记录。
func (s *AgentStore) Get(ctx context.Context, id string) (registry.Record, error) {
	var document string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM agents WHERE agent_id = ?`, id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Record{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 agent 记录失败")
	}
	return decode(document)
}

// Delete 删除记录，不存在时返回 registry.ErrNotFound。
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 agent 记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除 agent 记录失败")
	}
	if affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

// List 按创建时间返回全部记录。
func (s *AgentStore) List(ctx context.Context) ([]registry.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM agents ORDER BY created_at ASC, agent_id ASC`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 agent 列表失败")
	}
	defer rows.Close()

	var records []registry.Record
	for rows.Next() {
		var document string
		if err := rows.Scan(&document); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent 记录失败")
		}
		record, err := decode(document)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 agent 记录失败")
	}
	return records, nil
}

// Close 关闭连接池。
func (s *AgentStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decode(document string) (registry.Record, error) {
	var record registry.Record
	if err := json.Unmarshal([]byte(document), &record); err != nil {
		return registry.Record{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent 记录失败")
	}
	return record, nil
}

var _ registry.Store = (*AgentStore)(nil)
