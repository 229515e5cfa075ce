// Package grpc carries hoptrace contexts over gRPC metadata.
//
// # gRPC Server
//
//	srv := grpc.NewServer(
//	    grpc.UnaryInterceptor(hoptracegrpc.UnaryServerInterceptor(tracer, prop)),
//	    grpc.StreamInterceptor(hoptracegrpc.StreamServerInterceptor(tracer, prop)),
//	    grpc.StatsHandler(hoptracegrpc.ServerHandler()),
//	)
//
// # gRPC Client
//
//	conn, err := grpc.NewClient(target,
//	    grpc.WithUnaryInterceptor(hoptracegrpc.UnaryClientInterceptor(tracer, prop)),
//	    grpc.WithStatsHandler(hoptracegrpc.ClientHandler()),
//	)
//
// The interceptors produce the spans. The stats handlers only record RPC
// metrics through otelgrpc.
package grpc
