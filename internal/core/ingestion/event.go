package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// イベント種別
const (
	EventTypeStatus   = "status"
	EventTypeProgress = "progress"
)

// Event はジョブのチャンネルへ配信されるイベントの閉じた集合
type Event interface {
	EventType() string
}

// StatusEvent はジョブの状態遷移を通知する
type StatusEvent struct {
	JobID  uuid.UUID `json:"job_id"`
	Status JobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// EventType はイベント種別を返す
func (e StatusEvent) EventType() string {
	return EventTypeStatus
}

// MarshalJSON はtypeタグを付与したワイヤ形式にする
func (e StatusEvent) MarshalJSON() ([]byte, error) {
	type alias StatusEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: e.EventType(), alias: alias(e)})
}

// ProgressEvent はステージ完了時の進捗を通知する
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Stage     Stage     `json:"stage"`
	Documents int       `json:"documents,omitempty"`
	Chunks    int       `json:"chunks,omitempty"`
	Embedded  int       `json:"embedded,omitempty"`
}

// EventType はイベント種別を返す
func (e ProgressEvent) EventType() string {
	return EventTypeProgress
}

// MarshalJSON はtypeタグを付与したワイヤ形式にする
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type alias ProgressEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{Type: e.EventType(), alias: alias(e)})
}

// DecodeEvent はワイヤ形式のイベントを検証しながら復元する。
// 未知のtypeはエラーになる。
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	switch head.Type {
	case EventTypeStatus:
		var e StatusEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode status event: %w", err)
		}
		return e, nil
	case EventTypeProgress:
		var e ProgressEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode progress event: %w", err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", head.Type)
	}
}
