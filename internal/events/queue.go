package events

import (
	"context"
)

// Handler 处理来自消息队列的事件。返回错误表示处理器已放弃该事件（重试由
// 处理器自行完成）；只有在 ctx 结束导致的中断时，队列才会把事件留给下一个消费者。
type Handler func(ctx context.Context, evt Event) error

// Publisher 负责向外部投递事件。
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Consumer 负责从队列中消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备发布与消费能力。
type Queue interface {
	Publisher
	Consumer
}
