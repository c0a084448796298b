// Package redisearch はRediSearchのベクトル類似検索を使った ingestion.VectorIndex 実装を提供する。
// エントリはHASHとして保存され、FT.SEARCHのKNNクエリで検索する。
package redisearch

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jinford/research-rag/internal/core/ingestion"
)

// DefaultCollection は既定のベクトルコレクション名
const DefaultCollection = "chunks"

// HASHのフィールド名
const (
	fieldVector   = "vector"
	fieldSourceID = "source_id"
	fieldPayload  = "payload"
	fieldScore    = "score"
)

// HNSWインデックスの既定パラメータ
const (
	defaultM              = 16
	defaultEFConstruction = 200
)

// Index は ingestion.VectorIndex のRediSearch実装。
// コレクション名がそのままインデックス名とキープレフィックスになる。
type Index struct {
	client     redis.UniversalClient
	collection string
}

// NewIndex は新しいIndexを作成します。
// collectionが空の場合はDefaultCollectionを使用する。
func NewIndex(client redis.UniversalClient, collection string) *Index {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Index{client: client, collection: collection}
}

var _ ingestion.VectorIndex = (*Index)(nil)

func (x *Index) keyPrefix() string {
	return x.collection + ":"
}

func (x *Index) entryKey(id uuid.UUID) string {
	return x.keyPrefix() + id.String()
}

// dimKey はエントリのキープレフィックスに掛からないよう区切り文字を変えている
func (x *Index) dimKey() string {
	return x.collection + "#dim"
}

// EnsureCollection はコレクションの次元を登録し、HNSWインデックスを作成します。
// 登録済みの次元と異なる場合はErrDimensionMismatchを返す。
func (x *Index) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("dimension must be positive: %d", dim)
	}

	set, err := x.client.SetNX(ctx, x.dimKey(), dim, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to register collection dimension: %w", err)
	}
	if !set {
		stored, err := x.client.Get(ctx, x.dimKey()).Int()
		if err != nil {
			return fmt.Errorf("failed to read collection dimension: %w", err)
		}
		if stored != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, requested %d",
				ingestion.ErrDimensionMismatch, x.collection, stored, dim)
		}
	}

	// インデックスが既にあれば何もしない
	if err := x.client.Do(ctx, "FT.INFO", x.collection).Err(); err == nil {
		return nil
	}

	err = x.client.Do(ctx, "FT.CREATE", x.collection,
		"ON", "HASH",
		"PREFIX", "1", x.keyPrefix(),
		"SCHEMA",
		fieldVector, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", "COSINE",
		"M", strconv.Itoa(defaultM),
		"EF_CONSTRUCTION", strconv.Itoa(defaultEFConstruction),
		fieldSourceID, "TAG",
	).Err()
	if err != nil && !strings.Contains(err.Error(), "Index already exists") {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	return nil
}

// Upsert はエントリをまとめて挿入または置換します。
// キーはIDから決まるため、同一IDへの再upsertはHASHを上書きする。
func (x *Index) Upsert(ctx context.Context, points []ingestion.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	pipe := x.client.Pipeline()
	for _, p := range points {
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload of %s: %w", p.ID, err)
		}
		pipe.HSet(ctx, x.entryKey(p.ID),
			fieldVector, encodeVector(p.Vector),
			fieldSourceID, p.Payload.SourceID.String(),
			fieldPayload, payload,
		)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert vector entries: %w", err)
	}
	return nil
}

// Search はコサイン類似度の降順で最大limit件のヒットを返します
func (x *Index) Search(ctx context.Context, vector []float32, limit int, filter *ingestion.SearchFilter) ([]ingestion.VectorHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	expr := "*"
	if filter != nil && filter.SourceID != nil {
		expr = fmt.Sprintf("(@%s:{%s})", fieldSourceID, escapeTag(filter.SourceID.String()))
	}
	query := fmt.Sprintf("%s=>[KNN %d @%s $vec AS %s]", expr, limit, fieldVector, fieldScore)

	reply, err := x.client.Do(ctx, "FT.SEARCH", x.collection, query,
		"RETURN", "2", fieldScore, fieldPayload,
		"SORTBY", fieldScore,
		"LIMIT", "0", strconv.Itoa(limit),
		"PARAMS", "2", "vec", encodeVector(vector),
		"DIALECT", "2",
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to search vector entries: %w", err)
	}

	entries, err := parseSearchReply(reply)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search reply: %w", err)
	}
	return x.hitsFromEntries(entries)
}

func (x *Index) hitsFromEntries(entries []searchEntry) ([]ingestion.VectorHit, error) {
	hits := make([]ingestion.VectorHit, 0, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(strings.TrimPrefix(e.key, x.keyPrefix()))
		if err != nil {
			return nil, fmt.Errorf("unexpected entry key %q: %w", e.key, err)
		}
		distStr, ok := e.fields[fieldScore]
		if !ok {
			return nil, fmt.Errorf("entry %q has no %s field", e.key, fieldScore)
		}
		dist, err := strconv.ParseFloat(distStr, 64)
		if err != nil {
			return nil, fmt.Errorf("entry %q has invalid %s field: %w", e.key, fieldScore, err)
		}
		var payload ingestion.VectorPayload
		if raw, ok := e.fields[fieldPayload]; ok {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return nil, fmt.Errorf("failed to decode payload of %q: %w", e.key, err)
			}
		}
		hits = append(hits, ingestion.VectorHit{
			ID: id,
			// コサイン距離 1-cos をコサイン類似度へ戻す
			Score:   1 - dist,
			Payload: payload,
		})
	}
	return hits, nil
}

// encodeVector はFLOAT32ベクトルをリトルエンディアンのバイト列にする。
// RediSearchのVECTORフィールドはこのバイナリ表現を要求する。
func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// escapeTag はTAGクエリ構文の特殊文字をエスケープする。
// UUIDのハイフンもエスケープが必要になる。
func escapeTag(value string) string {
	var b strings.Builder
	b.Grow(len(value) * 2)
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

// searchEntry はFT.SEARCH応答の1件分
type searchEntry struct {
	key    string
	fields map[string]string
}

// parseSearchReply はFT.SEARCHの応答を解析する。
// 応答はRESP2では配列、RESP3ではマップで返る。
func parseSearchReply(reply any) ([]searchEntry, error) {
	switch r := reply.(type) {
	case []any:
		return parseArrayReply(r)
	default:
		if m, ok := asStringMap(reply); ok {
			return parseMapReply(m)
		}
		return nil, fmt.Errorf("unexpected reply type %T", r)
	}
}

// parseArrayReply は [件数, キー, [フィールド名, 値, ...], ...] 形式を解析する
func parseArrayReply(values []any) ([]searchEntry, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty reply")
	}
	var entries []searchEntry
	for i := 1; i+1 < len(values); i += 2 {
		key, ok := asString(values[i])
		if !ok {
			return nil, fmt.Errorf("unexpected entry key type %T", values[i])
		}
		rawFields, ok := values[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected entry fields type %T", values[i+1])
		}
		fields := make(map[string]string, len(rawFields)/2)
		for j := 0; j+1 < len(rawFields); j += 2 {
			name, ok := asString(rawFields[j])
			if !ok {
				continue
			}
			if value, ok := asString(rawFields[j+1]); ok {
				fields[name] = value
			}
		}
		entries = append(entries, searchEntry{key: key, fields: fields})
	}
	return entries, nil
}

// parseMapReply は {"results": [{"id": …, "extra_attributes": {…}}, …]} 形式を解析する
func parseMapReply(reply map[string]any) ([]searchEntry, error) {
	rawResults, ok := reply["results"].([]any)
	if !ok {
		return nil, fmt.Errorf("reply has no results field")
	}
	var entries []searchEntry
	for _, raw := range rawResults {
		item, ok := asStringMap(raw)
		if !ok {
			return nil, fmt.Errorf("unexpected result item type %T", raw)
		}
		key, ok := asString(item["id"])
		if !ok {
			return nil, fmt.Errorf("result item has no id field")
		}
		fields := make(map[string]string)
		if attrs, ok := asStringMap(item["extra_attributes"]); ok {
			for name, value := range attrs {
				if s, ok := asString(value); ok {
					fields[name] = s
				}
			}
		}
		entries = append(entries, searchEntry{key: key, fields: fields})
	}
	return entries, nil
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	default:
		return "", false
	}
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for key, value := range m {
			s, ok := asString(key)
			if !ok {
				return nil, false
			}
			out[s] = value
		}
		return out, true
	default:
		return nil, false
	}
}
