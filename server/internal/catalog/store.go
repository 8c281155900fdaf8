package catalog

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"skytrail/server/internal/logger"
	"skytrail/server/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNoReferences 题目没有任何出处引用。
var ErrNoReferences = errors.New("no references for question")

var (
	exactIDPattern       = regexp.MustCompile(`^\d+\.\d+$`)
	sectionPrefixPattern = regexp.MustCompile(`^\d+\.?$`)
)

// Store 题库持久化：postgres 或 sqlite，由 DSN 决定驱动。
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open 按 DSN 选择驱动并建立连接。
func Open(dsn string, log *logger.Logger) (*Store, error) {
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLogger.New(
			gormWriter{log: log},
			gormLogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		log.Error("Failed to open catalog store", "error", err)
		return nil, fmt.Errorf("open catalog store: %w", err)
	}
	return NewStore(db, log), nil
}

// NewStore 包装已有连接，mastery/debrief 与题库共用同一个 *gorm.DB。
func NewStore(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("component", "catalog")}
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, errors.New("empty catalog dsn")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.HasPrefix(dsn, "host="):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "file:"), strings.HasSuffix(dsn, ".db"), dsn == ":memory:":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported catalog dsn %q", dsn)
	}
}

// gormWriter 把 gorm 的日志转到 zap。
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warn(fmt.Sprintf(format, args...), "source", "gorm")
}

// DB 暴露底层连接给同库的其它仓储。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate 创建题库表。
func (s *Store) AutoMigrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&questionRow{}, &referenceRow{}, &docRow{}); err != nil {
		s.log.Error("Catalog auto migration failed", "error", err)
		return fmt.Errorf("migrate catalog: %w", err)
	}
	return nil
}

// Ping 健康检查：SELECT 1。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// All 全部题目（含引用），按 id 数值排序。
func (s *Store) All(ctx context.Context) ([]model.QuestionRecord, error) {
	var rows []questionRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	var refs []referenceRow
	if err := s.db.WithContext(ctx).Order("id").Find(&refs).Error; err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	byQuestion := map[string][]model.Reference{}
	for _, r := range refs {
		byQuestion[r.QuestionID] = append(byQuestion[r.QuestionID], r.reference())
	}
	out := make([]model.QuestionRecord, 0, len(rows))
	for _, row := range rows {
		rec := row.record()
		rec.References = byQuestion[row.ID]
		out = append(out, rec)
	}
	sortByID(out)
	return out, nil
}

// Search 题库浏览：精确 id（"3.18"）、章节前缀（"3" 或 "3."）或题干/选项文本匹配。
// section 非 nil 时再按章节号过滤。结果按 id 数值排序，"3.2" 在 "3.10" 之前。
func (s *Store) Search(ctx context.Context, query string, section *int) ([]model.QuestionRecord, error) {
	tx := s.db.WithContext(ctx).Model(&questionRow{})

	term := strings.TrimSpace(query)
	switch {
	case term == "":
	case exactIDPattern.MatchString(term):
		tx = tx.Where("id = ?", term)
	case sectionPrefixPattern.MatchString(term):
		tx = tx.Where("id LIKE ?", strings.TrimSuffix(term, ".")+".%")
	default:
		like := "%" + term + "%"
		tx = tx.Where("stem LIKE ? OR option_1 LIKE ? OR option_2 LIKE ? OR option_3 LIKE ? OR option_4 LIKE ?",
			like, like, like, like, like)
	}
	if section != nil {
		tx = tx.Where("section_number = ?", *section)
	}

	var rows []questionRow
	if err := tx.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search questions: %w", err)
	}
	return records(rows), nil
}

// References 某题的出处；没有任何引用时返回 ErrNoReferences。
func (s *Store) References(ctx context.Context, questionID string) ([]model.Reference, error) {
	var rows []referenceRow
	if err := s.db.WithContext(ctx).Where("question_id = ?", questionID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("references for %s: %w", questionID, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoReferences
	}
	out := make([]model.Reference, len(rows))
	for i, r := range rows {
		out[i] = r.reference()
	}
	return out, nil
}

// HasDocument 是否写入过出处文档信息。
func (s *Store) HasDocument(ctx context.Context) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&docRow{}).Count(&n).Error; err != nil {
		return false, fmt.Errorf("count doc metadata: %w", err)
	}
	return n > 0, nil
}

// Replace 清空后整体写入，重复执行结果一致。
func (s *Store) Replace(ctx context.Context, doc Document, questions []model.QuestionRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range []interface{}{&referenceRow{}, &questionRow{}, &docRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(table).Error; err != nil {
				return fmt.Errorf("clear catalog: %w", err)
			}
		}
		if len(questions) > 0 {
			rows := make([]questionRow, len(questions))
			var refs []referenceRow
			for i, q := range questions {
				rows[i] = toRow(q)
				for _, ref := range q.References {
					refs = append(refs, referenceRow{QuestionID: q.ID, ReferenceText: ref.Text, CanonicalURL: ref.CanonicalURL})
				}
			}
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return fmt.Errorf("insert questions: %w", err)
			}
			if len(refs) > 0 {
				if err := tx.CreateInBatches(refs, 100).Error; err != nil {
					return fmt.Errorf("insert references: %w", err)
				}
			}
		}
		if err := tx.Create(&docRow{Name: doc.Name, Edition: doc.Edition, Date: doc.Date}).Error; err != nil {
			return fmt.Errorf("insert doc metadata: %w", err)
		}
		return nil
	})
}

// Snapshot 把整个题库读进内存，供规划器同步访问。
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	all, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(all), nil
}

func records(rows []questionRow) []model.QuestionRecord {
	out := make([]model.QuestionRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	sortByID(out)
	return out
}
