package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
)

// HotelInput book_hotel 入参
type HotelInput struct {
	HotelName string `json:"hotel_name" jsonschema:"description=name of the hotel"`
	CheckIn   string `json:"check_in,omitempty" jsonschema:"description=check-in date as YYYY-MM-DD"`
	Nights    int    `json:"nights,omitempty" jsonschema:"description=number of nights"`
}

// FlightInput book_flight_ticket 入参
type FlightInput struct {
	FromAirport string `json:"from_airport" jsonschema:"description=departure airport"`
	ToAirport   string `json:"to_airport" jsonschema:"description=arrival airport"`
	Date        string `json:"date,omitempty" jsonschema:"description=departure date as YYYY-MM-DD"`
}

// NewBookHotelTool book_hotel：有副作用，默认需要人工审核
func NewBookHotelTool() (einotool.InvokableTool, error) {
	return utils.InferTool("book_hotel", "预订酒店",
		func(ctx context.Context, in *HotelInput) (string, error) {
			name := strings.TrimSpace(in.HotelName)
			if name == "" {
				return "", errors.New("hotel_name is required")
			}
			msg := fmt.Sprintf("成功预订了在 %s 的住宿", name)
			if in.CheckIn != "" {
				msg += "，入住日期 " + in.CheckIn
			}
			if in.Nights > 0 {
				msg += fmt.Sprintf("，共 %d 晚", in.Nights)
			}
			return msg + "。", nil
		})
}

// NewBookFlightTicketTool book_flight_ticket：有副作用，默认需要人工审核
func NewBookFlightTicketTool() (einotool.InvokableTool, error) {
	return utils.InferTool("book_flight_ticket", "预订机票",
		func(ctx context.Context, in *FlightInput) (string, error) {
			if in.FromAirport == "" || in.ToAirport == "" {
				return "", errors.New("from_airport and to_airport are required")
			}
			msg := fmt.Sprintf("成功预订了从 %s 到 %s 的机票", in.FromAirport, in.ToAirport)
			if in.Date != "" {
				msg += "，出发日期 " + in.Date
			}
			return msg + "。", nil
		})
}
