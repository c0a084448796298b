package eventhub

import (
	"sync"
)

const (
	// DefaultBufferSize はチャンネルごとのリプレイバッファの既定容量
	DefaultBufferSize = 500

	// DefaultSubscriptionBuffer はリプレイ分に加えてライブ配信用に確保する購読キューの余裕
	DefaultSubscriptionBuffer = 64
)

type options struct {
	bufferSize         int
	subscriptionBuffer int
}

// Option はHubの動作を変更するオプション
type Option func(*options)

// WithBufferSize はチャンネルごとのリプレイバッファ容量を設定します
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// WithSubscriptionBuffer はライブ配信用の購読キュー余裕を設定します
func WithSubscriptionBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.subscriptionBuffer = n
		}
	}
}

// Hub は名前付きチャンネルへのpub/subを提供します。
// チャンネルは最初のアクセス時に生成され、プロセスの生存期間中保持されます。
type Hub[T any] struct {
	mu       sync.Mutex
	channels map[string]*Channel[T]
	opts     options
}

// New は新しいHubを作成します
func New[T any](opts ...Option) *Hub[T] {
	o := options{
		bufferSize:         DefaultBufferSize,
		subscriptionBuffer: DefaultSubscriptionBuffer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Hub[T]{
		channels: make(map[string]*Channel[T]),
		opts:     o,
	}
}

// Channel はキーに対応するチャンネルを返します。存在しなければ作成します。
func (h *Hub[T]) Channel(key string) *Channel[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[key]
	if !ok {
		ch = &Channel[T]{
			key:                key,
			bufferSize:         h.opts.bufferSize,
			subscriptionBuffer: h.opts.subscriptionBuffer,
			subs:               make(map[*Subscription[T]]struct{}),
		}
		h.channels[key] = ch
	}
	return ch
}

// Publish はキーに対応するチャンネルへメッセージを配信します
func (h *Hub[T]) Publish(key string, msg T) {
	h.Channel(key).Publish(msg)
}

// Channel は購読者集合と直近メッセージのリングバッファを持つ単一チャンネルです
type Channel[T any] struct {
	key                string
	bufferSize         int
	subscriptionBuffer int

	mu     sync.Mutex
	buffer []T
	subs   map[*Subscription[T]]struct{}
}

// Key はチャンネルのキーを返します
func (c *Channel[T]) Key() string {
	return c.key
}

// Publish はバッファへ追記した上で、接続中の全購読者へメッセージを渡します。
// ロックが保護するのはバッファと購読者集合のみで、購読者への受け渡しは
// 各購読者専用のキューへのノンブロッキング送信で行います。キューが満杯の
// 購読者はその場で切断され、他の購読者への配信とPublish自体は影響を受けません。
func (c *Channel[T]) Publish(msg T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, msg)
	if len(c.buffer) > c.bufferSize {
		c.buffer = c.buffer[len(c.buffer)-c.bufferSize:]
	}

	for sub := range c.subs {
		select {
		case sub.ch <- msg:
		default:
			// 追いつけない購読者は切断する
			delete(c.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe は購読を登録し、バッファ済みの履歴を古い順にキューへ積んでから返します。
// 以降のライブメッセージは履歴の後ろに続いて届きます。
func (c *Channel[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := &Subscription[T]{
		ch: make(chan T, c.bufferSize+c.subscriptionBuffer),
	}
	for _, msg := range c.buffer {
		sub.ch <- msg
	}
	c.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe は購読を解除します。多重呼び出しは無害です。
func (c *Channel[T]) Unsubscribe(sub *Subscription[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[sub]; ok {
		delete(c.subs, sub)
		close(sub.ch)
	}
}

// SubscriberCount は接続中の購読者数を返します
func (c *Channel[T]) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscription は単一購読者の受信キューです
type Subscription[T any] struct {
	ch chan T
}

// Events は受信チャンネルを返します。購読解除または切断時にクローズされます。
func (s *Subscription[T]) Events() <-chan T {
	return s.ch
}
