package eventhub

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainAvailable は今すぐ受信できるメッセージだけを取り出します
func drainAvailable[T any](sub *Subscription[T]) []T {
	var got []T
	for {
		select {
		case msg, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, msg)
		default:
			return got
		}
	}
}

func TestChannelLookupIsIdempotent(t *testing.T) {
	hub := New[string]()

	ch1 := hub.Channel("ingest:job-1")
	ch2 := hub.Channel("ingest:job-1")
	other := hub.Channel("ingest:job-2")

	assert.Same(t, ch1, ch2)
	assert.NotSame(t, ch1, other)
	assert.Equal(t, "ingest:job-1", ch1.Key())
}

func TestSubscribeReplaysHistoryThenLive(t *testing.T) {
	hub := New[int]()
	ch := hub.Channel("ingest:job-1")

	ch.Publish(1)
	ch.Publish(2)
	ch.Publish(3)

	sub := ch.Subscribe()
	defer ch.Unsubscribe(sub)

	ch.Publish(4)

	got := drainAvailable(sub)
	assert.Equal(t, []int{1, 2, 3, 4}, got)
}

func TestReplayKeepsOnlyLastBufferSizeMessages(t *testing.T) {
	hub := New[int](WithBufferSize(500))
	ch := hub.Channel("ingest:job-1")

	for i := 1; i <= 600; i++ {
		ch.Publish(i)
	}

	sub := ch.Subscribe()
	defer ch.Unsubscribe(sub)

	got := drainAvailable(sub)
	require.Len(t, got, 500)
	assert.Equal(t, 101, got[0])
	assert.Equal(t, 600, got[499])

	// リプレイ後のライブ配信も順序どおり届く
	ch.Publish(601)
	assert.Equal(t, []int{601}, drainAvailable(sub))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	hub := New[string]()
	ch := hub.Channel("run:abc")

	sub1 := ch.Subscribe()
	sub2 := ch.Subscribe()
	defer ch.Unsubscribe(sub1)
	defer ch.Unsubscribe(sub2)

	ch.Publish("hello")

	assert.Equal(t, []string{"hello"}, drainAvailable(sub1))
	assert.Equal(t, []string{"hello"}, drainAvailable(sub2))
}

func TestSlowSubscriberIsEvictedWithoutAffectingOthers(t *testing.T) {
	hub := New[int](WithBufferSize(4), WithSubscriptionBuffer(2))
	ch := hub.Channel("ingest:job-1")

	slow := ch.Subscribe() // 一切読まない
	require.Equal(t, 1, ch.SubscriberCount())

	// キュー容量(4+2)を超えた時点で切断される
	for i := 1; i <= 7; i++ {
		ch.Publish(i)
	}
	assert.Equal(t, 0, ch.SubscriberCount())

	// 切断された購読者はキュー済み分を受け取ったあとクローズを観測する
	got := drainAvailable(slow)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, got)
	_, ok := <-slow.Events()
	assert.False(t, ok)

	// チャンネル自体は生きていて、新規購読者はバッファ分を受け取れる
	late := ch.Subscribe()
	defer ch.Unsubscribe(late)
	assert.Equal(t, []int{4, 5, 6, 7}, drainAvailable(late))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	hub := New[int]()
	ch := hub.Channel("ingest:job-1")

	sub := ch.Subscribe()
	ch.Unsubscribe(sub)
	assert.NotPanics(t, func() { ch.Unsubscribe(sub) })

	// 解除後のPublishは残った購読者がいないだけで成功する
	assert.NotPanics(t, func() { ch.Publish(1) })
}

func TestHubPublishReachesLateSubscriberViaReplay(t *testing.T) {
	hub := New[string]()

	for i := 0; i < 3; i++ {
		hub.Publish("ingest:job-9", fmt.Sprintf("msg-%d", i))
	}

	sub := hub.Channel("ingest:job-9").Subscribe()
	defer hub.Channel("ingest:job-9").Unsubscribe(sub)

	got := drainAvailable(sub)
	assert.Equal(t, []string{"msg-0", "msg-1", "msg-2"}, got)
}
