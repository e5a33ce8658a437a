package ingest

import (
	"strconv"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

const krakenTradeReqID = 11

// krakenEnvelope is the v2 channel message shape.
type krakenEnvelope struct {
	Channel string        `json:"channel"`
	Type    string        `json:"type"`
	Data    []krakenTrade `json:"data"`
}

type krakenTrade struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Side      string          `json:"side"`
	Timestamp string          `json:"timestamp"`
}

type krakenSubscribeAck struct {
	Method  string `json:"method"`
	ReqID   int    `json:"req_id"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Result  struct {
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
	} `json:"result"`
}

func tickFromTrade(tr krakenTrade) (schema.Tick, error) {
	price, err := strconv.ParseFloat(tr.Price.String(), 64)
	if err != nil {
		return schema.Tick{}, errors.Wrap(exception.ErrFeedParse, "price")
	}
	size, err := strconv.ParseFloat(tr.Qty.String(), 64)
	if err != nil {
		return schema.Tick{}, errors.Wrap(exception.ErrFeedParse, "qty")
	}
	ts, err := time.Parse(time.RFC3339Nano, tr.Timestamp)
	if err != nil {
		return schema.Tick{}, errors.Wrap(exception.ErrFeedParse, "timestamp")
	}
	if price <= 0 {
		return schema.Tick{}, errors.Wrap(exception.ErrFeedParse, "non-positive price")
	}

	side := schema.SideUnknown
	switch tr.Side {
	case "buy":
		side = schema.SideBuy
	case "sell":
		side = schema.SideSell
	}

	return schema.Tick{
		TimestampUs: ts.UnixMicro(),
		Price:       price,
		Size:        size,
		Side:        side,
	}, nil
}
