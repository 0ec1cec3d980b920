package cache

import (
	"context"
	"sync"

	"github.com/knowhub/search-go/internal/models"
)

// flightCall 一次在途计算
// 计算运行在独立context上，只有当所有等待方都离开时才被取消
type flightCall struct {
	done    chan struct{}
	result  *models.SearchResponse
	err     error
	waiters int
	cancel  context.CancelFunc
}

// flightGroup 同key请求合并
// 同一key同时只有一次计算在途，结果与错误广播给全部等待方
type flightGroup struct {
	mu    sync.Mutex
	calls map[string]*flightCall
}

func newFlightGroup() *flightGroup {
	return &flightGroup{calls: make(map[string]*flightCall)}
}

// Do 加入或发起key对应的计算
// 调用方取消只影响自己，最后一个等待方离开时取消底层计算
func (g *flightGroup) Do(ctx context.Context, key string, compute func(ctx context.Context) (*models.SearchResponse, error)) (*models.SearchResponse, error) {
	g.mu.Lock()
	call, inflight := g.calls[key]
	if !inflight {
		computeCtx, cancel := context.WithCancel(context.Background())
		call = &flightCall{
			done:   make(chan struct{}),
			cancel: cancel,
		}
		g.calls[key] = call
		go func() {
			defer cancel()
			result, err := compute(computeCtx)
			g.mu.Lock()
			call.result = result
			call.err = err
			// 等待方全部离开后记录可能已被摘除并被新调用顶替，只删自己
			if g.calls[key] == call {
				delete(g.calls, key)
			}
			g.mu.Unlock()
			close(call.done)
		}()
	}
	call.waiters++
	g.mu.Unlock()

	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		g.leave(key, call)
		return nil, ctx.Err()
	}
}

// leave 等待方提前离开，计数归零则取消在途计算
func (g *flightGroup) leave(key string, call *flightCall) {
	g.mu.Lock()
	call.waiters--
	if call.waiters == 0 {
		select {
		case <-call.done:
		default:
			call.cancel()
			delete(g.calls, key)
		}
	}
	g.mu.Unlock()
}
