package repository

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/brndland/brndvote/config"
	"github.com/brndland/brndvote/internal/model"
)

// MySQLRepository 生命周期日志仓库，记录已确认的投票/分享/领奖事件供活动流查询
// 只做补充性记录，从不作为VotingState的权威来源
type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// AppendEvent 追加生命周期事件，按(fid, day, event_type)去重，重复消费安全
func (r *MySQLRepository) AppendEvent(entry *model.JournalEntry) error {
	query := `INSERT INTO lifecycle_events (fid, day, event_type, transaction_hash, cast_hash, reward_amount)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE
			 transaction_hash = VALUES(transaction_hash),
			 cast_hash = VALUES(cast_hash),
			 reward_amount = VALUES(reward_amount)`

	_, err := r.masterDB.Exec(query,
		entry.FID,
		entry.Day,
		string(entry.EventType),
		entry.TransactionHash,
		entry.CastHash,
		entry.RewardAmount,
	)
	if err != nil {
		return fmt.Errorf("写入生命周期事件失败: %w", err)
	}
	return nil
}

// RecentEvents 查询用户最近的生命周期事件
func (r *MySQLRepository) RecentEvents(fid int64, limit int) ([]*model.JournalEntry, error) {
	query := `SELECT id, fid, day, event_type, transaction_hash, cast_hash, reward_amount, created_at
			 FROM lifecycle_events
			 WHERE fid = ?
			 ORDER BY created_at DESC
			 LIMIT ?`

	rows, err := r.slaveDB.Query(query, fid, limit)
	if err != nil {
		return nil, fmt.Errorf("查询生命周期事件失败: %w", err)
	}
	defer rows.Close()

	var entries []*model.JournalEntry
	for rows.Next() {
		var entry model.JournalEntry
		var eventType string
		if err := rows.Scan(
			&entry.ID,
			&entry.FID,
			&entry.Day,
			&eventType,
			&entry.TransactionHash,
			&entry.CastHash,
			&entry.RewardAmount,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描生命周期事件失败: %w", err)
		}
		entry.EventType = model.EventType(eventType)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代生命周期事件失败: %w", err)
	}

	return entries, nil
}

// DayEvents 查询用户某一天的全部事件（核对当日状态机轨迹用）
func (r *MySQLRepository) DayEvents(fid int64, day int64) ([]*model.JournalEntry, error) {
	query := `SELECT id, fid, day, event_type, transaction_hash, cast_hash, reward_amount, created_at
			 FROM lifecycle_events
			 WHERE fid = ? AND day = ?
			 ORDER BY created_at ASC`

	rows, err := r.slaveDB.Query(query, fid, day)
	if err != nil {
		return nil, fmt.Errorf("查询当日事件失败: %w", err)
	}
	defer rows.Close()

	var entries []*model.JournalEntry
	for rows.Next() {
		var entry model.JournalEntry
		var eventType string
		if err := rows.Scan(
			&entry.ID,
			&entry.FID,
			&entry.Day,
			&eventType,
			&entry.TransactionHash,
			&entry.CastHash,
			&entry.RewardAmount,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描当日事件失败: %w", err)
		}
		entry.EventType = model.EventType(eventType)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代当日事件失败: %w", err)
	}

	return entries, nil
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
