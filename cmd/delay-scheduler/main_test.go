package main

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestDueTimePrefersDelayTimestampHeader(t *testing.T) {
	target := time.Date(2026, 8, 30, 12, 15, 0, 0, time.UTC)
	msg := kafka.Message{
		Time: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		Headers: []kafka.Header{
			{Key: "real-topic", Value: []byte("order-cancel-topic")},
			{Key: "delay-timestamp", Value: []byte(target.Format(time.RFC3339))},
		},
	}

	assert.True(t, dueTime(msg, 15*time.Minute).Equal(target))
}

func TestDueTimeFallsBackToMessageTime(t *testing.T) {
	enqueued := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	msg := kafka.Message{Time: enqueued}
	assert.True(t, dueTime(msg, time.Minute).Equal(enqueued.Add(time.Minute)))

	// 无法解析的头按缺失处理
	msg.Headers = []kafka.Header{{Key: "delay-timestamp", Value: []byte("not-a-time")}}
	assert.True(t, dueTime(msg, time.Minute).Equal(enqueued.Add(time.Minute)))
}
