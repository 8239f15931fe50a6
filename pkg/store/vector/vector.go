// Package vector stores chunk embeddings in Qdrant, one collection per
// memory.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/domain"
	"github.com/liliang-cn/graphmem/pkg/log"
)

const (
	connectTimeout = 30 * time.Second
	scrollPageSize = 100
	importBatch    = 100
)

var waitTrue = true

// Store is the Qdrant adapter. Collections are named
// "<prefix><memory_id>" with non-alphanumeric runes mapped to underscores.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	prefix      string
	dimensions  uint64
	logger      *slog.Logger
}

// New connects to the Qdrant gRPC endpoint.
func New(cfg config.VectorConfig, dimensions int) (*Store, error) {
	addr := strings.TrimPrefix(strings.TrimPrefix(cfg.Addr, "http://"), "https://")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, domain.DependencyError("vector-store", err)
	}

	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		prefix:      cfg.CollectionPrefix,
		dimensions:  uint64(dimensions),
		logger:      log.WithModule("vector"),
	}, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ping lists collections to verify the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return domain.DependencyError("vector-store", err)
	}
	return nil
}

// CollectionName maps a memory id to its collection name. Qdrant collection
// names must stay within a safe character set.
func (s *Store) CollectionName(memoryID string) string {
	var b strings.Builder
	for _, r := range memoryID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return s.prefix + b.String()
}

// EnsureCollection creates the memory's collection and its payload indexes if
// missing. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context, memoryID string) error {
	name := s.CollectionName(memoryID)

	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return domain.DependencyError("vector-store", err)
	}
	for _, col := range listResp.Collections {
		if col.Name == name {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.dimensions,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return domain.DependencyError("vector-store", err)
	}

	// Keyword indexes make the doc_id delete and search filters cheap.
	for _, field := range []string{"doc_id", "memory_id"} {
		fieldType := pb.FieldType_FieldTypeKeyword
		_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      &fieldType,
			Wait:           &waitTrue,
		})
		if err != nil {
			return domain.DependencyError("vector-store", err)
		}
	}

	s.logger.Info("collection created", "collection", name, "dimensions", s.dimensions)
	return nil
}

// DropCollection removes the memory's collection. Missing collections are not
// an error.
func (s *Store) DropCollection(ctx context.Context, memoryID string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: s.CollectionName(memoryID),
	})
	if err != nil {
		s.logger.Warn("collection drop failed", "memory_id", memoryID, "error", err)
	}
	return nil
}

// Upsert writes embedded chunks as points. Point ids are fresh UUIDs; the
// chunk identity lives in the payload.
func (s *Store) Upsert(ctx context.Context, memoryID string, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", domain.ErrInvalidInput, len(chunks), len(vectors))
	}

	points := make([]*pb.PointStruct, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.New().String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: chunkPayload(chunk),
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.CollectionName(memoryID),
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return domain.DependencyError("vector-store", err)
	}
	return nil
}

// Search runs cosine similarity over the memory's collection. When docIDs is
// non-empty the search is restricted to those documents. Score thresholding
// is left to the caller so it can log what was filtered.
func (s *Store) Search(ctx context.Context, memoryID string, vector []float32, limit int, docIDs []string) ([]domain.ChunkHit, error) {
	var filter *pb.Filter
	if len(docIDs) > 0 {
		filter = &pb.Filter{
			Must: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: "doc_id",
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: docIDs},
							},
						},
					},
				},
			}},
		}
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.CollectionName(memoryID),
		Vector:         vector,
		Filter:         filter,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, domain.DependencyError("vector-store", err)
	}

	hits := make([]domain.ChunkHit, 0, len(resp.Result))
	for _, point := range resp.Result {
		hits = append(hits, domain.ChunkHit{
			Chunk: chunkFromPayload(point.Payload),
			Score: float64(point.Score),
		})
	}
	return hits, nil
}

// DeleteByDoc removes every point belonging to a document.
func (s *Store) DeleteByDoc(ctx context.Context, memoryID, documentID string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.CollectionName(memoryID),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{{
						ConditionOneOf: &pb.Condition_Field{
							Field: &pb.FieldCondition{
								Key: "doc_id",
								Match: &pb.Match{
									MatchValue: &pb.Match_Keyword{Keyword: documentID},
								},
							},
						},
					}},
				},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return domain.DependencyError("vector-store", err)
	}
	return nil
}

// ExportedPoint is one vector record in a backup, serialised as a JSONL row.
type ExportedPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// exportValue maps a Qdrant payload value to its JSON-friendly Go value.
// Unsupported kinds come back nil and are dropped from the export.
func exportValue(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

// importValue maps an exported payload value back to a Qdrant value. JSON
// decoding hands every number over as float64; integral ones are restored as
// integers so chunk indexes survive the round trip.
func importValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		if val == math.Trunc(val) {
			return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
		}
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

// Export scrolls the whole collection, vectors included.
func (s *Store) Export(ctx context.Context, memoryID string) ([]ExportedPoint, error) {
	name := s.CollectionName(memoryID)
	var exported []ExportedPoint
	var offset *pb.PointId

	for {
		limit := uint32(scrollPageSize)
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: name,
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
			WithVectors: &pb.WithVectorsSelector{
				SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, domain.DependencyError("vector-store", err)
		}

		for _, point := range resp.Result {
			row := ExportedPoint{
				ID:      point.Id.GetUuid(),
				Payload: map[string]any{},
			}
			if vectors := point.Vectors; vectors != nil {
				if v := vectors.GetVector(); v != nil {
					row.Vector = v.Data
				}
			}
			for k, v := range point.Payload {
				if value := exportValue(v); value != nil {
					row.Payload[k] = value
				}
			}
			exported = append(exported, row)
		}

		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			break
		}
		offset = resp.NextPageOffset
	}

	return exported, nil
}

// Import writes exported points back, in batches. The collection must exist.
func (s *Store) Import(ctx context.Context, memoryID string, points []ExportedPoint) error {
	name := s.CollectionName(memoryID)

	for start := 0; start < len(points); start += importBatch {
		end := start + importBatch
		if end > len(points) {
			end = len(points)
		}

		batch := make([]*pb.PointStruct, 0, end-start)
		for _, row := range points[start:end] {
			id := row.ID
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.New().String()
			}
			payload := make(map[string]*pb.Value, len(row.Payload))
			for k, v := range row.Payload {
				payload[k] = importValue(v)
			}
			batch = append(batch, &pb.PointStruct{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: row.Vector}},
				},
				Payload: payload,
			})
		}

		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: name,
			Points:         batch,
			Wait:           &waitTrue,
		})
		if err != nil {
			return domain.DependencyError("vector-store", err)
		}
	}

	s.logger.Info("vectors imported", "memory_id", memoryID, "points", len(points))
	return nil
}

func chunkPayload(chunk domain.Chunk) map[string]*pb.Value {
	str := func(v string) *pb.Value {
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	num := func(v int) *pb.Value {
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(v)}}
	}
	payload := map[string]*pb.Value{
		"content":      str(chunk.Text),
		"doc_id":       str(chunk.DocID),
		"memory_id":    str(chunk.MemoryID),
		"filename":     str(chunk.Filename),
		"chunk_index":  num(chunk.Index),
		"total_chunks": num(chunk.TotalChunks),
	}
	if chunk.SectionTitle != "" {
		payload["section_title"] = str(chunk.SectionTitle)
	}
	if chunk.ArticleNumber != "" {
		payload["article_number"] = str(chunk.ArticleNumber)
	}
	return payload
}

func chunkFromPayload(payload map[string]*pb.Value) domain.Chunk {
	str := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	num := func(key string) int {
		if v, ok := payload[key]; ok {
			return int(v.GetIntegerValue())
		}
		return 0
	}
	return domain.Chunk{
		Text:          str("content"),
		DocID:         str("doc_id"),
		MemoryID:      str("memory_id"),
		Filename:      str("filename"),
		Index:         num("chunk_index"),
		TotalChunks:   num("total_chunks"),
		SectionTitle:  str("section_title"),
		ArticleNumber: str("article_number"),
	}
}
