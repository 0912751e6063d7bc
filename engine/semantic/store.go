// Package semantic stores caption vectors and answers nearest-neighbour
// queries over them.
package semantic

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/WessleyAI/mindpalace/engine/domain"
	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Payload keys stored alongside every point.
const (
	KeyImageID = "image_id"
	KeyCaption = "caption"
	KeyPath    = "path"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantConfig holds connection settings for a Qdrant collection.
type QdrantConfig struct {
	Addr       string // gRPC host:port
	APIKey     string
	Collection string
	// Insecure disables TLS. The API key is still sent when set.
	Insecure bool
	// Metric is cosine, dot or euclid. Empty means cosine.
	Metric string
}

// QdrantIndex is the sole owner of all Qdrant operations.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	distance    pb.Distance
}

var _ Index = (*QdrantIndex)(nil)

// New creates a QdrantIndex. grpc.NewClient does not dial, so connection
// problems surface on the first call.
func New(cfg QdrantConfig) (*QdrantIndex, error) {
	dist, err := ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: semantic: dial qdrant %s: %w", domain.ErrIndexService, cfg.Addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		distance:    dist,
	}, nil
}

// NewWithClients builds a QdrantIndex over existing clients. Close is a no-op.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *QdrantIndex {
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		distance:    pb.Distance_Cosine,
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// ParseMetric maps a metric name to a Qdrant distance.
func ParseMetric(name string) (pb.Distance, error) {
	switch strings.ToLower(name) {
	case "", "cosine":
		return pb.Distance_Cosine, nil
	case "dot":
		return pb.Distance_Dot, nil
	case "euclid", "euclidean":
		return pb.Distance_Euclid, nil
	default:
		return 0, domain.NewValidationError("metric", name, fmt.Errorf("unknown metric %q", name))
	}
}

// PointID derives the stable Qdrant point ID for an image ID.
func PointID(imageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(imageID)).String()
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCreated creates the collection if it doesn't exist.
func (q *QdrantIndex) EnsureCreated(ctx context.Context, dims int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: semantic: list collections: %w", domain.ErrIndexService, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: q.distance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: semantic: create collection %s: %w", domain.ErrIndexService, q.collection, err)
	}
	return nil
}

// Drop deletes the collection.
func (q *QdrantIndex) Drop(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: q.collection,
	})
	if err != nil {
		return fmt.Errorf("%w: semantic: delete collection %s: %w", domain.ErrIndexService, q.collection, err)
	}
	return nil
}

// Upsert stores image vectors. Re-upserting an image ID overwrites its point.
func (q *QdrantIndex) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				KeyImageID: stringValue(r.ID),
				KeyCaption: stringValue(r.Caption),
				KeyPath:    stringValue(r.Path),
			},
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: semantic: upsert %d points: %w", domain.ErrIndexService, len(records), err)
	}
	return nil
}

// Delete removes the point stored for an image.
func (q *QdrantIndex) Delete(ctx context.Context, imageID string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(KeyImageID, imageID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: semantic: delete image %s: %w", domain.ErrIndexService, imageID, err)
	}
	return nil
}

// Search performs k-NN similarity search. Scores are higher-is-better for
// every metric: Euclidean distances come back negated.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return []SearchResult{}, nil
	}
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: semantic: search: %w", domain.ErrIndexService, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := r.GetPayload()
		results[i] = SearchResult{
			ID:      p[KeyImageID].GetStringValue(),
			Score:   q.score(r.GetScore()),
			Caption: p[KeyCaption].GetStringValue(),
			Path:    p[KeyPath].GetStringValue(),
		}
		if results[i].ID == "" {
			results[i].ID = r.GetId().GetUuid()
		}
	}
	return results, nil
}

func (q *QdrantIndex) score(raw float32) float32 {
	if q.distance == pb.Distance_Euclid {
		return -raw
	}
	return raw
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
