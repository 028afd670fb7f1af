package builtin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// CalculatorInput calculator 入参
type CalculatorInput struct {
	A  float64 `json:"a" jsonschema:"description=left operand"`
	B  float64 `json:"b" jsonschema:"description=right operand"`
	Op string  `json:"op" jsonschema:"description=operator,enum=+,enum=-,enum=*,enum=/"`
}

// BinaryInput add/subtract/multiply 入参
type BinaryInput struct {
	A float64 `json:"a" jsonschema:"description=first number"`
	B float64 `json:"b" jsonschema:"description=second number"`
}

// ErrDivideByZero 除数为 0
var ErrDivideByZero = errors.New("divide by zero")

// Calculate 四则运算
func Calculate(a, b float64, op string) (float64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*", "x", "×":
		return a * b, nil
	case "/", "÷":
		if b == 0 {
			return 0, ErrDivideByZero
		}
		return a / b, nil
	}
	return 0, fmt.Errorf("unsupported operator %q", op)
}

// FormatNumber 去掉多余小数位，如 15.0 -> "15"
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NewCalculatorTool calculator：对两个数做四则运算
func NewCalculatorTool() (einotool.InvokableTool, error) {
	return utils.InferTool("calculator", "对两个数做四则运算并返回结果",
		func(ctx context.Context, in *CalculatorInput) (string, error) {
			v, err := Calculate(in.A, in.B, in.Op)
			if err != nil {
				return "", err
			}
			return FormatNumber(v), nil
		})
}

func newBinaryTool(name, desc, op string) (einotool.InvokableTool, error) {
	return utils.InferTool(name, desc, func(ctx context.Context, in *BinaryInput) (string, error) {
		v, err := Calculate(in.A, in.B, op)
		if err != nil {
			return "", err
		}
		return FormatNumber(v), nil
	})
}

// NewAddTool add
func NewAddTool() (einotool.InvokableTool, error) {
	return newBinaryTool("add", "两个数相加", "+")
}

// NewSubtractTool subtract
func NewSubtractTool() (einotool.InvokableTool, error) {
	return newBinaryTool("subtract", "第一个数减去第二个数", "-")
}

// NewMultiplyTool multiply
func NewMultiplyTool() (einotool.InvokableTool, error) {
	return newBinaryTool("multiply", "两个数相乘", "*")
}
