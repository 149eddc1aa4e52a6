package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// StreamMessage Redis Streams 消息
type StreamMessage struct {
	Stream string
	ID     string
	Values map[string]string
}

// AppendToStream 追加消息到 Redis Streams（XADD），maxLen > 0 时按近似长度裁剪
func AppendToStream(ctx context.Context, client *redis.Client, stream string, values map[string]string, maxLen int64) (string, error) {
	streamValues := make(map[string]interface{}, len(values))
	for k, v := range values {
		streamValues[k] = v
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: streamValues,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append to stream %s: %w", stream, err)
	}
	return id, nil
}

// ReadStream 按写入顺序读取整个 Stream（XRANGE - +）
func ReadStream(ctx context.Context, client *redis.Client, stream string) ([]StreamMessage, error) {
	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return []StreamMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}

	messages := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		values := make(map[string]string, len(msg.Values))
		for k, v := range msg.Values {
			switch val := v.(type) {
			case string:
				values[k] = val
			default:
				values[k] = fmt.Sprint(val)
			}
		}
		messages = append(messages, StreamMessage{
			Stream: stream,
			ID:     msg.ID,
			Values: values,
		})
	}

	return messages, nil
}

// DeleteFromStream 删除指定 ID 的消息
func DeleteFromStream(ctx context.Context, client *redis.Client, stream string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := client.XDel(ctx, stream, ids...).Err(); err != nil {
		return fmt.Errorf("failed to delete from stream %s: %w", stream, err)
	}
	return nil
}

// StreamLen 返回 Stream 长度
func StreamLen(ctx context.Context, client *redis.Client, stream string) (int64, error) {
	n, err := client.XLen(ctx, stream).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("failed to get stream length %s: %w", stream, err)
	}
	return n, nil
}
