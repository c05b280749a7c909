package rpc

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack-simulator/groundtrack"
	"github.com/signalsfoundry/groundtrack-simulator/model"
)

// Client is a thin typed wrapper over the ground-track service.
type Client struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// Dial connects to target with plaintext credentials, OpenTelemetry client
// instrumentation and request-ID forwarding. opts are applied last.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Client{cc: conn, conn: conn}, nil
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Close releases the connection opened by Dial.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Propagate runs a single tick remotely.
func (c *Client) Propagate(ctx context.Context, in groundtrack.Input) (groundtrack.Result, error) {
	track, err := c.PropagateTrack(ctx, in, 1)
	if err != nil {
		return groundtrack.Result{}, err
	}
	return track[len(track)-1], nil
}

// PropagateTrack runs ticks consecutive ticks remotely and returns every
// intermediate result.
func (c *Client) PropagateTrack(ctx context.Context, in groundtrack.Input, ticks int) ([]groundtrack.Result, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodPropagate, encodePropagate(PropagateRequest{Input: in, Ticks: ticks}), out); err != nil {
		return nil, err
	}
	track, err := decodeTrack(out)
	if err != nil {
		return nil, err
	}
	if len(track) == 0 {
		return nil, fmt.Errorf("%w: empty track in response", ErrInvalidRequest)
	}
	return track, nil
}

// GetPlatform fetches one platform.
func (c *Client) GetPlatform(ctx context.Context, id string) (model.PlatformDefinition, error) {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{keyID: structpb.NewStringValue(id)}}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetPlatform, in, out); err != nil {
		return model.PlatformDefinition{}, err
	}
	return decodePlatform(out)
}

// ListPlatforms fetches every platform.
func (c *Client) ListPlatforms(ctx context.Context) ([]model.PlatformDefinition, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListPlatforms, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	values := out.GetFields()[keyPlatforms].GetListValue().GetValues()
	platforms := make([]model.PlatformDefinition, 0, len(values))
	for i, v := range values {
		p, err := decodePlatform(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("platforms[%d]: %w", i, err)
		}
		platforms = append(platforms, p)
	}
	return platforms, nil
}

// RemovePlatform drops one platform from the running simulation.
func (c *Client) RemovePlatform(ctx context.Context, id string) error {
	in := &structpb.Struct{Fields: map[string]*structpb.Value{keyID: structpb.NewStringValue(id)}}
	return c.cc.Invoke(ctx, methodRemovePlatform, in, new(structpb.Struct))
}
