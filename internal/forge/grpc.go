package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/anvil-platform/modforge/internal/catalog"
	"github.com/anvil-platform/modforge/internal/module"
)

// The catalog service exchanges google.protobuf.Struct messages:
//
//	request:  {"module": "owner/name"}
//	response: {"releases": <feed>, "archive_base": "<dir or http(s) URL>"}
//
// Archives are not streamed over gRPC; clients fetch them from archive_base.
const (
	CatalogServiceName   = "modforge.catalog.v1.Catalog"
	dependencyInfoMethod = "/" + CatalogServiceName + "/DependencyInfo"
)

// CatalogServer is the server API of the catalog service.
type CatalogServer interface {
	DependencyInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var catalogServiceDesc = grpc.ServiceDesc{
	ServiceName: CatalogServiceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "DependencyInfo",
		Handler:    dependencyInfoHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modforge/catalog/v1/catalog.proto",
}

func dependencyInfoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CatalogServer).DependencyInfo(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: dependencyInfoMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CatalogServer).DependencyInfo(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterCatalogServer registers srv on s.
func RegisterCatalogServer(s grpc.ServiceRegistrar, srv CatalogServer) {
	s.RegisterService(&catalogServiceDesc, srv)
}

// GRPCServer serves dependency info from Source.
type GRPCServer struct {
	Source catalog.Source
	// ArchiveBase tells clients where the archives named by the feed live.
	ArchiveBase string
	Log         logr.Logger
}

func (s *GRPCServer) DependencyInfo(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is nil")
	}
	raw := req.GetFields()["module"].GetStringValue()
	name, err := module.ParseName(raw)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	feed, err := s.Source.DependencyInfo(ctx, name)
	if err != nil {
		s.Log.Error(err, "dependency info failed", "module", name.String())
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	releases, err := feedToStruct(feed)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s.Log.V(1).Info("served dependency info", "module", name.String(), "modules", len(feed))
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"releases":     structpb.NewStructValue(releases),
		"archive_base": structpb.NewStringValue(s.ArchiveBase),
	}}, nil
}

// GRPCClient is a Repository backed by the catalog service. Archives are
// retrieved from the archive base the server reports.
type GRPCClient struct {
	conn     grpc.ClientConnInterface
	closer   func() error
	cacheDir string
	log      logr.Logger

	mu       sync.Mutex
	archives Repository
}

// NewGRPCClient wraps an existing connection.
func NewGRPCClient(conn grpc.ClientConnInterface, opts Options) *GRPCClient {
	return &GRPCClient{conn: conn, cacheDir: opts.CacheDir, log: opts.Log}
}

// DialGRPC connects to the catalog service at target without transport security.
func DialGRPC(target string, opts Options) (*GRPCClient, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("forge: dial %s: %w", target, err)
	}
	c := NewGRPCClient(conn, opts)
	c.closer = conn.Close
	return c, nil
}

func (c *GRPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *GRPCClient) DependencyInfo(ctx context.Context, root module.Name) (catalog.Feed, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"module": structpb.NewStringValue(root.ForgeName()),
	}}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, dependencyInfoMethod, req, out); err != nil {
		return nil, fmt.Errorf("forge: dependency info: %w", err)
	}

	feed, err := structToFeed(out.GetFields()["releases"].GetStructValue())
	if err != nil {
		return nil, err
	}
	base := out.GetFields()["archive_base"].GetStringValue()
	c.mu.Lock()
	c.archives = c.archiveRepository(base)
	c.mu.Unlock()
	return feed, nil
}

func (c *GRPCClient) archiveRepository(base string) Repository {
	switch {
	case base == "":
		return nil
	case strings.HasPrefix(base, "http://"), strings.HasPrefix(base, "https://"):
		return NewHTTP(base, Options{CacheDir: c.cacheDir, Log: c.log})
	default:
		return Dir{Root: base}
	}
}

func (c *GRPCClient) Retrieve(ctx context.Context, file string) (string, error) {
	c.mu.Lock()
	archives := c.archives
	c.mu.Unlock()
	if archives == nil {
		return "", fmt.Errorf("%w: catalog service reported no archive location for %s", ErrArchiveNotFound, file)
	}
	return archives.Retrieve(ctx, file)
}

func feedToStruct(feed catalog.Feed) (*structpb.Struct, error) {
	raw, err := json.Marshal(feed)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return out, nil
}

func structToFeed(s *structpb.Struct) (catalog.Feed, error) {
	feed := catalog.Feed{}
	if s == nil {
		return feed, nil
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("forge: decode feed: %w", err)
	}
	return feed, nil
}
