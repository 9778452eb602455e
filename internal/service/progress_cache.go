package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
	"github.com/ArchismanDutta/OmazingPWA-sub001/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const progressCacheKeyPrefix = "enrollment:progress:"

// ProgressView 学员查询进度时返回的只读视图
type ProgressView struct {
	EnrollmentID   string                 `json:"enrollmentId"`
	Status         model.EnrollmentStatus `json:"status"`
	Progress       model.ProgressSnapshot `json:"progress"`
	CurrentLesson  *model.CurrentLesson   `json:"currentLesson,omitempty"`
	LastAccessedAt time.Time              `json:"lastAccessedAt"`
	Version        int                    `json:"version"`
}

func NewProgressView(e *model.Enrollment) *ProgressView {
	return &ProgressView{
		EnrollmentID:   e.ID,
		Status:         e.Status,
		Progress:       e.Progress,
		CurrentLesson:  e.CurrentLesson,
		LastAccessedAt: e.LastAccessedAt,
		Version:        e.Version,
	}
}

// ProgressCache 进度快照的Redis缓存，Client 为 nil 时所有操作为空操作
//
// 每条选课记录另有一个版本下限键，Invalidate 将其提升到刚保存的版本，
// Set 写入低于下限的视图会被丢弃，避免并发读把旧视图回填进缓存。
type ProgressCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewProgressCache(client *redis.Client, ttl time.Duration) *ProgressCache {
	return &ProgressCache{Client: client, TTL: ttl}
}

func progressCacheKey(userID uint, courseID string) string {
	return fmt.Sprintf("%s%d:%s", progressCacheKeyPrefix, userID, courseID)
}

func progressFloorKey(userID uint, courseID string) string {
	return fmt.Sprintf("%sfloor:%d:%s", progressCacheKeyPrefix, userID, courseID)
}

// KEYS[1] 视图 KEYS[2] 版本下限; ARGV 版本, 数据, 过期毫秒
var setProgressScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < floor then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// KEYS[1] 视图 KEYS[2] 版本下限; ARGV 版本, 下限过期毫秒
var invalidateProgressScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > floor then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
else
	redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// Get 命中返回视图，未命中或出错返回 nil
func (c *ProgressCache) Get(ctx context.Context, userID uint, courseID string) *ProgressView {
	if c == nil || c.Client == nil {
		return nil
	}
	val, err := c.Client.Get(ctx, progressCacheKey(userID, courseID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		logger.Log.Warn("读取进度缓存失败", zap.Error(err))
		return nil
	}

	var view ProgressView
	if err := json.Unmarshal([]byte(val), &view); err != nil {
		logger.Log.Warn("进度缓存格式错误", zap.String("courseId", courseID), zap.Error(err))
		return nil
	}
	return &view
}

// Set 回填视图，版本低于下限时不写入，返回是否写入
func (c *ProgressCache) Set(ctx context.Context, userID uint, courseID string, view *ProgressView) bool {
	if c == nil || c.Client == nil || view == nil {
		return false
	}
	data, err := json.Marshal(view)
	if err != nil {
		return false
	}
	keys := []string{progressCacheKey(userID, courseID), progressFloorKey(userID, courseID)}
	written, err := setProgressScript.Run(ctx, c.Client, keys, view.Version, string(data), c.TTL.Milliseconds()).Int()
	if err != nil {
		logger.Log.Warn("写入进度缓存失败", zap.Error(err))
		return false
	}
	return written == 1
}

// Invalidate 每次成功写入选课记录后调用，version 为刚保存的版本
func (c *ProgressCache) Invalidate(ctx context.Context, userID uint, courseID string, version int) {
	if c == nil || c.Client == nil {
		return
	}
	keys := []string{progressCacheKey(userID, courseID), progressFloorKey(userID, courseID)}
	if err := invalidateProgressScript.Run(ctx, c.Client, keys, version, c.floorTTL().Milliseconds()).Err(); err != nil {
		logger.Log.Warn("删除进度缓存失败", zap.Error(err))
	}
}

// floorTTL 下限键需要比一次读取回填的耗时长得多
func (c *ProgressCache) floorTTL() time.Duration {
	if c.TTL <= 0 {
		return time.Hour
	}
	return 2 * c.TTL
}
