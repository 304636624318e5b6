package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"VectorLink/internal/modules/rag/domain/document"
	"VectorLink/internal/modules/rag/domain/repository"
	"VectorLink/pkg/xerr"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// MilvusIndex VectorIndex 的 Milvus 适配器
//
// 集合 schema：id(varchar 主键) / vector / doc_id / content / metadata(JSON)。
// 后端错误统一包装为可重试的 ErrRetrieval；表达式非法等调用方错误不标记重试。
type MilvusIndex struct {
	cli         mclient.Client
	collection  string
	vectorField string
	dim         int
	metric      document.Metric
	searchParam entity.SearchParam
}

func NewMilvusIndex(cli mclient.Client, collection string, dim int, metric document.Metric) (*MilvusIndex, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim: %d", dim)
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusIndex{cli: cli, collection: collection, vectorField: "vector", dim: dim, metric: metric, searchParam: sp}, nil
}

func (s *MilvusIndex) Dim() int { return s.dim }

func (s *MilvusIndex) Metric() document.Metric { return s.metric }

func (s *MilvusIndex) Upsert(ctx context.Context, entries []repository.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	docIDs := make([]string, 0, len(entries))
	contents := make([]string, 0, len(entries))
	metas := make([][]byte, 0, len(entries))

	for _, e := range entries {
		if e.ID == "" {
			return errors.New("upsert entry missing ID")
		}
		if len(e.Vector) != s.dim {
			return fmt.Errorf("%w: id=%s got=%d want=%d", xerr.ErrDimensionMismatch, e.ID, len(e.Vector), s.dim)
		}
		ids = append(ids, e.ID)
		vectors = append(vectors, e.Vector)
		docIDs = append(docIDs, e.DocID)
		contents = append(contents, e.Content)
		metas = append(metas, marshalMeta(e.Metadata))
	}

	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnFloatVector(s.vectorField, s.dim, vectors),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnJSONBytes("metadata", metas),
	)
	if err != nil {
		return xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, err))
	}
	return nil
}

func (s *MilvusIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`id in ["%s"]`, strings.Join(ids, `","`))
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, err))
	}
	return nil
}

func (s *MilvusIndex) DeleteByDocIDs(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}
	expr := fmt.Sprintf(`doc_id in ["%s"]`, strings.Join(docIDs, `","`))
	if err := s.cli.Delete(ctx, s.collection, "", expr); err != nil {
		return xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, err))
	}
	return nil
}

func (s *MilvusIndex) Search(ctx context.Context, vector []float32, topK int, filter repository.SearchFilter) ([]document.ScoredMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK=%d", xerr.ErrBadQuery, topK)
	}
	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: got=%d want=%d", xerr.ErrDimensionMismatch, len(vector), s.dim)
	}

	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		buildFilterExpr(filter),
		[]string{"doc_id", "content", "metadata"},
		[]entity.Vector{entity.FloatVector(vector)},
		s.vectorField,
		milvusMetric(s.metric),
		topK,
		s.searchParam,
	)
	if err != nil {
		return nil, xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, err))
	}
	if len(res) == 0 {
		return []document.ScoredMatch{}, nil
	}
	return s.parseSearchResult(res[0])
}

func (s *MilvusIndex) Count(ctx context.Context) (int64, error) {
	stats, err := s.cli.GetCollectionStatistics(ctx, s.collection)
	if err != nil {
		return 0, xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, err))
	}
	var n int64
	_, _ = fmt.Sscanf(stats["row_count"], "%d", &n)
	return n, nil
}

func (s *MilvusIndex) Close() error {
	if s == nil || s.cli == nil {
		return nil
	}
	return s.cli.Close()
}

func (s *MilvusIndex) parseSearchResult(sr mclient.SearchResult) ([]document.ScoredMatch, error) {
	if sr.Err != nil {
		return nil, xerr.MarkTransient(fmt.Errorf("%w: %v", xerr.ErrRetrieval, sr.Err))
	}
	hits := make([]document.ScoredMatch, 0, sr.ResultCount)

	docIDCol := columnByName(sr.Fields, "doc_id")
	contentCol := columnByName(sr.Fields, "content")
	metaCol := columnByName(sr.Fields, "metadata")

	for i := 0; i < sr.ResultCount; i++ {
		score := float64(0)
		if i < len(sr.Scores) {
			score = normalizeScore(s.metric, float64(sr.Scores[i]))
		}
		h := document.ScoredMatch{Score: score}
		if docIDCol != nil {
			v, _ := docIDCol.GetAsString(i)
			h.DocumentID = v
			h.Payload.DocumentID = v
		}
		if contentCol != nil {
			v, _ := contentCol.GetAsString(i)
			h.Payload.Content = v
		}
		if metaCol != nil {
			v, _ := metaCol.Get(i)
			if bs, ok := v.([]byte); ok {
				var meta document.Metadata
				if err := json.Unmarshal(bs, &meta); err == nil {
					h.Payload.Metadata = meta
				}
			}
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// buildFilterExpr 将等值过滤转换为 Milvus 表达式
//
// doc_id 直接匹配标量字段，其余 key 匹配 metadata JSON 字段。
func buildFilterExpr(filter repository.SearchFilter) string {
	if len(filter) == 0 {
		return ""
	}
	parts := make([]string, 0, len(filter))
	for k, v := range filter {
		field := fmt.Sprintf(`metadata["%s"]`, k)
		if k == "doc_id" {
			field = "doc_id"
		}
		switch val := v.(type) {
		case string:
			parts = append(parts, fmt.Sprintf(`%s == "%s"`, field, strings.ReplaceAll(val, `"`, "")))
		case bool:
			parts = append(parts, fmt.Sprintf(`%s == %t`, field, val))
		default:
			if f, ok := toFloat(v); ok {
				parts = append(parts, fmt.Sprintf(`%s == %v`, field, f))
			}
		}
	}
	return strings.Join(parts, " && ")
}

func milvusMetric(m document.Metric) entity.MetricType {
	switch m {
	case document.MetricIP:
		return entity.IP
	case document.MetricL2:
		return entity.L2
	default:
		return entity.COSINE
	}
}

// normalizeScore 将后端返回的分数统一为“越大越相似”
func normalizeScore(m document.Metric, raw float64) float64 {
	if m == document.MetricL2 {
		return 1 / (1 + raw)
	}
	return raw
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

func marshalMeta(meta document.Metadata) []byte {
	if len(meta) == 0 {
		return []byte("{}")
	}
	bs, err := json.Marshal(meta)
	if err != nil {
		return []byte("{}")
	}
	return bs
}
