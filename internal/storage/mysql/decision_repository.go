package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	xerrors "AgentRouter/internal/errors"
)

// 路由决策的最终结果。
const (
	OutcomeAnswered = "answered"
	OutcomeDegraded = "degraded"
	OutcomeNoMatch  = "no_match"
	OutcomeFailed   = "failed"
	OutcomeRouted   = "routed"
)

// DecisionRecord 记录一次路由决策及其执行结果。
type DecisionRecord struct {
	ID         int64              `json:"id,omitempty"`
	RequestID  string             `json:"request_id"`
	Query      string             `json:"query"`
	Intent     string             `json:"intent"`
	Domains    []string           `json:"domains,omitempty"`
	Complexity string             `json:"complexity,omitempty"`
	Mode       string             `json:"mode"`
	Selected   []string           `json:"selected"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Reasoning  []string           `json:"reasoning,omitempty"`
	Rejected   []RejectedHandler  `json:"rejected,omitempty"`
	Outcome    string             `json:"outcome"`
	ErrorCode  string             `json:"error_code,omitempty"`
	Degraded   bool               `json:"degraded"`
	LatencyMS  int64              `json:"latency_ms"`
	CreatedAt  int64              `json:"created_at"`
}

// RejectedHandler 记录未入选的候选处理器及原因。
type RejectedHandler struct {
	HandlerID string  `json:"handler_id"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
}

// DecisionRepository 抽象路由决策的持久化接口。
type DecisionRepository interface {
	Save(ctx context.Context, record DecisionRecord) error
	ListLatest(ctx context.Context, limit int) ([]DecisionRecord, error)
	Close() error
}

const maxCachedDecisions = 512

// FileDecisionRepository 以 JSON Lines 追加写本地文件，并在内存中保留最近的记录。
type FileDecisionRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []DecisionRecord
	nextID   int64
}

// NewFileDecisionRepository 在数据目录下创建或恢复 decisions.log。
func NewFileDecisionRepository(dataDir string) (*FileDecisionRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo := &FileDecisionRepository{dataFile: filepath.Join(dataDir, "decisions.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录决策。
func (m *FileDecisionRepository) Save(_ context.Context, record DecisionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开决策日志失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化决策记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入决策日志失败")
	}

	m.records = append([]DecisionRecord{record}, m.records...)
	if len(m.records) > maxCachedDecisions {
		m.records = m.records[:maxCachedDecisions]
	}
	return nil
}

// ListLatest 返回最近的决策记录，按写入时间倒序排列。
func (m *FileDecisionRepository) ListLatest(_ context.Context, limit int) ([]DecisionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]DecisionRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

// Close 对文件仓库无需操作。
func (m *FileDecisionRepository) Close() error { return nil }

func (m *FileDecisionRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取决策日志失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var restored []DecisionRecord
	for scanner.Scan() {
		var record DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]DecisionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析决策日志失败")
	}

	if len(restored) > maxCachedDecisions {
		restored = restored[:maxCachedDecisions]
	}
	m.records = restored
	return nil
}

// SQLDecisionRepository 将决策写入 routing_decisions 表。
type SQLDecisionRepository struct {
	db *sql.DB
}

// NewSQLDecisionRepository 基于已迁移的连接创建仓库。
func NewSQLDecisionRepository(db *sql.DB) *SQLDecisionRepository {
	return &SQLDecisionRepository{db: db}
}

const insertDecisionSQL = `INSERT INTO routing_decisions
    (request_id, query_text, intent, domains, complexity, mode, selected, scores, reasoning, rejected, outcome, error_code, degraded, latency_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectDecisionsSQL = `SELECT id, request_id, query_text, intent, domains, complexity, mode, selected, scores, reasoning, rejected, outcome, error_code, degraded, latency_ms, created_at
    FROM routing_decisions ORDER BY created_at DESC, id DESC LIMIT ?`

// Save 将决策写入 MySQL。
func (s *SQLDecisionRepository) Save(ctx context.Context, record DecisionRecord) error {
	domains, err := encodeJSON(record.Domains)
	if err != nil {
		return err
	}
	selected, err := encodeJSON(record.Selected)
	if err != nil {
		return err
	}
	scores, err := encodeJSON(record.Scores)
	if err != nil {
		return err
	}
	reasoning, err := encodeJSON(record.Reasoning)
	if err != nil {
		return err
	}
	rejected, err := encodeJSON(record.Rejected)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, insertDecisionSQL,
		record.RequestID,
		record.Query,
		record.Intent,
		domains,
		record.Complexity,
		record.Mode,
		selected,
		scores,
		reasoning,
		rejected,
		record.Outcome,
		record.ErrorCode,
		record.Degraded,
		record.LatencyMS,
		record.CreatedAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入路由决策失败")
	}
	return nil
}

// ListLatest 查询最近的若干条决策。
func (s *SQLDecisionRepository) ListLatest(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectDecisionsSQL, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询路由决策失败")
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var (
			record                                         DecisionRecord
			domains, selected, scores, reasoning, rejected sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.RequestID, &record.Query, &record.Intent, &domains,
			&record.Complexity, &record.Mode, &selected, &scores, &reasoning, &rejected, &record.Outcome,
			&record.ErrorCode, &record.Degraded, &record.LatencyMS, &record.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析路由决策失败")
		}
		if err := decodeJSON(domains, &record.Domains); err != nil {
			return nil, err
		}
		if err := decodeJSON(selected, &record.Selected); err != nil {
			return nil, err
		}
		if err := decodeJSON(scores, &record.Scores); err != nil {
			return nil, err
		}
		if err := decodeJSON(reasoning, &record.Reasoning); err != nil {
			return nil, err
		}
		if err := decodeJSON(rejected, &record.Rejected); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历路由决策失败")
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLDecisionRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeJSON(v any) (sql.NullString, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码决策字段失败")
	}
	if string(raw) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeJSON(raw sql.NullString, dest any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dest); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析决策字段失败")
	}
	return nil
}

var (
	_ DecisionRepository = (*FileDecisionRepository)(nil)
	_ DecisionRepository = (*SQLDecisionRepository)(nil)
)
