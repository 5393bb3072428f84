package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"study-forge-api/internal/domain/entity"
)

const (
	progressKeyPrefix = "progress:"
	inputKeyPrefix    = "session:"
)

// 已是终态的进度不再被覆盖
var setProgressScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "stage")
if cur == "completed" or cur == "failed" or cur == "error" then
	return 0
end
redis.call("HSET", KEYS[1], "stage", ARGV[1], "step", ARGV[2], "percent", ARGV[3], "message", ARGV[4], "updated_at", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return 1
`)

// ProgressKey 进度记录键
func ProgressKey(sessionID string) string {
	return progressKeyPrefix + sessionID
}

// ErrorKey 错误记录键
func ErrorKey(sessionID string) string {
	return progressKeyPrefix + sessionID + ":error"
}

// InputKey 会话输入暂存键
func InputKey(sessionID string) string {
	return inputKeyPrefix + sessionID + ":input"
}

// ProgressStore 会话进度、错误记录与输入暂存
type ProgressStore struct {
	client *Client
}

// NewProgressStore 创建进度存储
func NewProgressStore(client *Client) *ProgressStore {
	return &ProgressStore{client: client}
}

// SetProgress 写入进度，返回 false 表示已处于终态未写入
func (s *ProgressStore) SetProgress(ctx context.Context, sessionID string, rec entity.ProgressRecord, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "progress.Set",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("progress.stage", rec.Stage),
			attribute.Int("progress.percent", rec.Percent),
		))
	defer span.End()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	n, err := setProgressScript.Run(ctx, s.client.rdb, []string{ProgressKey(sessionID)},
		rec.Stage,
		rec.Step,
		rec.Percent,
		rec.Message,
		rec.UpdatedAt.Format(time.RFC3339Nano),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("set progress %s: %w", sessionID, err)
	}
	return n == 1, nil
}

// GetProgress 读取进度，不存在时返回 ok=false
func (s *ProgressStore) GetProgress(ctx context.Context, sessionID string) (*entity.ProgressRecord, bool, error) {
	ctx, span := tracer.Start(ctx, "progress.Get",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	fields, err := s.client.rdb.HGetAll(ctx, ProgressKey(sessionID)).Result()
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}

	rec := &entity.ProgressRecord{
		Stage:   fields["stage"],
		Step:    fields["step"],
		Message: fields["message"],
	}
	if p, err := strconv.Atoi(fields["percent"]); err == nil {
		rec.Percent = p
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
		rec.UpdatedAt = ts
	}
	return rec, true, nil
}

// SetError 写入错误记录
func (s *ProgressStore) SetError(ctx context.Context, sessionID string, rec entity.ErrorRecord, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "progress.SetError",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("error.kind", rec.Kind),
		))
	defer span.End()

	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	bytes, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal error record: %w", err)
	}
	if err := s.client.rdb.Set(ctx, ErrorKey(sessionID), bytes, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// GetError 读取错误记录，不存在时返回 nil
func (s *ProgressStore) GetError(ctx context.Context, sessionID string) (*entity.ErrorRecord, error) {
	ctx, span := tracer.Start(ctx, "progress.GetError",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	val, err := s.client.rdb.Get(ctx, ErrorKey(sessionID)).Bytes()
	if err != nil {
		if IsNil(err) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, err
	}

	var rec entity.ErrorRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("decode error record %s: %w", sessionID, err)
	}
	return &rec, nil
}

// SaveInput 暂存提交的文件，供重投递的任务恢复输入
func (s *ProgressStore) SaveInput(ctx context.Context, sessionID string, files []entity.InputFile, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "progress.SaveInput",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("input.file_count", len(files)),
		))
	defer span.End()

	bytes, err := json.Marshal(files)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	if err := s.client.rdb.Set(ctx, InputKey(sessionID), bytes, ttl).Err(); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// LoadInput 读取暂存输入，不存在时返回 ok=false
func (s *ProgressStore) LoadInput(ctx context.Context, sessionID string) ([]entity.InputFile, bool, error) {
	ctx, span := tracer.Start(ctx, "progress.LoadInput",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	val, err := s.client.rdb.Get(ctx, InputKey(sessionID)).Bytes()
	if err != nil {
		if IsNil(err) {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, err
	}

	var files []entity.InputFile
	if err := json.Unmarshal(val, &files); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("decode input %s: %w", sessionID, err)
	}
	return files, true, nil
}

// DeleteInput 删除暂存输入
func (s *ProgressStore) DeleteInput(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, InputKey(sessionID))
}
