package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"RiftBeacon/internal/events"
)

// EventRepository 持久化已提交的协议事件，供查询接口与外部索引使用。
// 重复写入同一事件 ID 视为成功，索引器可以放心重试。
type EventRepository interface {
	SaveEvent(ctx context.Context, evt events.Event) error
	ListLatest(ctx context.Context, limit int) ([]events.Event, error)
	ListBySubject(ctx context.Context, subject string, limit int) ([]events.Event, error)
	Close() error
}

const (
	defaultListLimit = 50
	memoryRetention  = 4096
)

// MemoryEventRepository 将事件追加到本地 JSON 行文件，并在内存中保留最近的记录。
type MemoryEventRepository struct {
	mu       sync.RWMutex
	dataFile string
	seen     map[string]struct{}
	records  []events.Event
}

// NewMemoryEventRepository 创建文件型事件仓库，dataDir 为空时仅保存在内存中。
func NewMemoryEventRepository(dataDir string) (*MemoryEventRepository, error) {
	repo := &MemoryEventRepository{seen: make(map[string]struct{})}
	if dataDir == "" {
		return repo, nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo.dataFile = filepath.Join(dataDir, "events.log")
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// SaveEvent 实现 events.Saver。
func (m *MemoryEventRepository) SaveEvent(_ context.Context, evt events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[evt.ID]; ok || !m.retains(evt) {
		return nil
	}
	if m.dataFile != "" {
		if err := m.appendToDisk(evt); err != nil {
			return err
		}
	}
	m.insert(evt)
	return nil
}

// ListLatest 返回最近的事件，按 (height, index) 倒序排列。
func (m *MemoryEventRepository) ListLatest(_ context.Context, limit int) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(limit, func(events.Event) bool { return true }), nil
}

// ListBySubject 返回与 subject 相关的最近事件。
func (m *MemoryEventRepository) ListBySubject(_ context.Context, subject string, limit int) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(limit, func(evt events.Event) bool { return evt.Subject == subject }), nil
}

// Close 无需释放资源。
func (m *MemoryEventRepository) Close() error { return nil }

func (m *MemoryEventRepository) filter(limit int, keep func(events.Event) bool) []events.Event {
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := make([]events.Event, 0, limit)
	for _, evt := range m.records {
		if len(out) == limit {
			break
		}
		if keep(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// retains 判断 evt 插入后是否仍在保留窗口内。
func (m *MemoryEventRepository) retains(evt events.Event) bool {
	return len(m.records) < memoryRetention || newer(evt, m.records[len(m.records)-1])
}

// insert 维持 records 按 (height, index) 倒序，seen 只记录窗口内的事件。
func (m *MemoryEventRepository) insert(evt events.Event) {
	m.seen[evt.ID] = struct{}{}
	pos := sort.Search(len(m.records), func(i int) bool {
		return newer(evt, m.records[i])
	})
	m.records = append(m.records, events.Event{})
	copy(m.records[pos+1:], m.records[pos:])
	m.records[pos] = evt
	if len(m.records) > memoryRetention {
		for _, old := range m.records[memoryRetention:] {
			delete(m.seen, old.ID)
		}
		m.records = m.records[:memoryRetention]
	}
}

func newer(a, b events.Event) bool {
	if a.Height != b.Height {
		return a.Height > b.Height
	}
	return a.Index > b.Index
}

func (m *MemoryEventRepository) appendToDisk(evt events.Event) error {
	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开事件日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := events.Encode(evt)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入事件日志失败: %w", err)
	}
	return nil
}

func (m *MemoryEventRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取事件日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		evt, err := events.Decode(scanner.Bytes())
		if err != nil {
			continue
		}
		if _, ok := m.seen[evt.ID]; ok || !m.retains(evt) {
			continue
		}
		m.insert(evt)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析事件日志失败: %w", err)
	}
	return nil
}

// SQLEventRepository 使用 MySQL 存储事件。
type SQLEventRepository struct {
	db *sql.DB
}

// NewSQLEventRepository 建立连接池并执行嵌入的迁移脚本。
func NewSQLEventRepository(ctx context.Context, cfg Config) (*SQLEventRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLEventRepository{db: db}, nil
}

const insertEventSQL = `INSERT INTO protocol_events
    (id, kind, height, event_index, ts, sender, subject, operation, attributes)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectEventColumns = `SELECT id, kind, height, event_index, ts, sender, subject, operation, attributes
    FROM protocol_events`

// SaveEvent 实现 events.Saver，主键冲突视为已写入。
func (s *SQLEventRepository) SaveEvent(ctx context.Context, evt events.Event) error {
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("序列化事件属性失败: %w", err)
	}
	_, err = s.db.ExecContext(ctx, insertEventSQL,
		evt.ID,
		string(evt.Kind),
		evt.Height,
		evt.Index,
		evt.Timestamp,
		evt.Sender,
		evt.Subject,
		evt.Operation,
		string(attrs),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil
		}
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的事件。
func (s *SQLEventRepository) ListLatest(ctx context.Context, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.query(ctx, selectEventColumns+` ORDER BY height DESC, event_index DESC LIMIT ?`, limit)
}

// ListBySubject 查询指定主体的最近事件。
func (s *SQLEventRepository) ListBySubject(ctx context.Context, subject string, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.query(ctx, selectEventColumns+` WHERE subject = ? ORDER BY height DESC, event_index DESC LIMIT ?`, subject, limit)
}

func (s *SQLEventRepository) query(ctx context.Context, stmt string, args ...any) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt   events.Event
			kind  string
			attrs string
		)
		if err := rows.Scan(&evt.ID, &kind, &evt.Height, &evt.Index, &evt.Timestamp, &evt.Sender, &evt.Subject, &evt.Operation, &attrs); err != nil {
			return nil, fmt.Errorf("解析事件失败: %w", err)
		}
		evt.Kind = events.Kind(kind)
		if attrs != "" && attrs != "null" {
			if err := json.Unmarshal([]byte(attrs), &evt.Attributes); err != nil {
				return nil, fmt.Errorf("解析事件属性失败: %w", err)
			}
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历事件失败: %w", err)
	}
	return out, nil
}

// Close 关闭底层数据库连接。
func (s *SQLEventRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
