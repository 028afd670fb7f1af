// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpc 提供 gRPC 健康检查服务；健康状态由会话存储可达性决定。
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName 健康检查中的服务名
const ServiceName = "hitl.agent.v1.Agent"

// Prober 探测依赖是否可用（如会话存储统计）
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc 适配函数为 Prober
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Probe(ctx context.Context) error { return f(ctx) }

// Server gRPC 健康检查服务
type Server struct {
	health *health.Server
	prober Prober
}

// NewServer 创建健康检查服务；prober 为 nil 时始终 SERVING
func NewServer(prober Prober) *Server {
	s := &Server{health: health.NewServer(), prober: prober}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Register 注册到 grpc.Server
func (s *Server) Register(grpcServer *grpc.Server) {
	healthpb.RegisterHealthServer(grpcServer, s.health)
}

// Refresh 执行一次探测并更新服务状态，返回探测错误
func (s *Server) Refresh(ctx context.Context) error {
	if s.prober == nil {
		return nil
	}
	status := healthpb.HealthCheckResponse_SERVING
	err := s.prober.Probe(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	return err
}

// Shutdown 将全部服务置为 NOT_SERVING
func (s *Server) Shutdown() {
	s.health.Shutdown()
}
