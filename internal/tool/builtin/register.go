package builtin

import (
	"context"
	"fmt"

	einotool "github.com/cloudwego/eino/components/tool"

	"hitl-agent/internal/tool/registry"
)

// DefaultReviewTools 默认需要人工审核的内置工具
var DefaultReviewTools = []string{"book_hotel", "book_flight_ticket"}

// RegisterAll 将全部内置工具注册到 Registry
func RegisterAll(ctx context.Context, reg *registry.Registry) error {
	ctors := []func() (einotool.InvokableTool, error){
		NewCalculatorTool,
		NewAddTool,
		NewSubtractTool,
		NewMultiplyTool,
		NewBookHotelTool,
		NewBookFlightTicketTool,
	}
	for _, ctor := range ctors {
		t, err := ctor()
		if err != nil {
			return fmt.Errorf("create builtin tool: %w", err)
		}
		if err := reg.Register(ctx, t); err != nil {
			return err
		}
	}
	return nil
}
