package exchange

import (
	"context"
	"fmt"

	"github.com/quantloop/tradecore/internal/core/model"
	"github.com/quantloop/tradecore/internal/core/ports"
	"github.com/quantloop/tradecore/internal/db"
)

// CoreExecutionPort adapts an Exchange implementation (BinanceExchange or
// MockExchange) plus its PositionManager into the Agent Loop's
// ports.ExecutionPort, translating between the broker-facing Order/Position
// shapes this package already owns and the core's normalized model types.
type CoreExecutionPort struct {
	exchange Exchange
	pm       *PositionManager
	balance  float64 // starting capital; adjusted by realized PnL as positions close
}

// NewCoreExecutionPort wires an already-constructed Exchange and
// PositionManager into a ports.ExecutionPort. startingBalance seeds
// AccountInfo.Balance; the session's InitialCapital is the natural source
// for live trading (see db.TradingSession).
func NewCoreExecutionPort(ex Exchange, pm *PositionManager, startingBalance float64) *CoreExecutionPort {
	return &CoreExecutionPort{exchange: ex, pm: pm, balance: startingBalance}
}

func (a *CoreExecutionPort) Submit(ctx context.Context, order ports.Order) (ports.Ack, error) {
	side := OrderSideBuy
	if order.Side == model.SideShort {
		side = OrderSideSell
	}
	orderType := OrderTypeMarket
	req := PlaceOrderRequest{
		Symbol:   order.Instrument,
		Side:     side,
		Type:     orderType,
		Quantity: order.Size,
	}
	if order.LimitPrice != nil {
		req.Type = OrderTypeLimit
		req.Price = *order.LimitPrice
	}

	resp, err := a.exchange.PlaceOrder(ctx, req)
	if err != nil {
		return ports.Ack{}, fmt.Errorf("exchange: submit %s %s: %w", order.Side, order.Instrument, err)
	}

	placed, err := a.exchange.GetOrder(ctx, resp.OrderID)
	if err != nil {
		// Order was accepted (resp.Status came back) even though we could
		// not immediately re-fetch it; report the Ack from resp alone.
		return ports.Ack{OrderID: resp.OrderID, Accepted: resp.Status != OrderStatusRejected}, nil
	}
	return ports.Ack{OrderID: placed.ID, Accepted: placed.Status != OrderStatusRejected, Timestamp: placed.UpdatedAt}, nil
}

func (a *CoreExecutionPort) ListPositions(ctx context.Context) ([]model.Position, error) {
	dbPositions := a.pm.GetOpenPositions()
	out := make([]model.Position, 0, len(dbPositions))
	for _, p := range dbPositions {
		out = append(out, fromDBPosition(p))
	}
	return out, nil
}

func (a *CoreExecutionPort) AccountInfo(ctx context.Context) (ports.AccountInfo, error) {
	return ports.AccountInfo{
		Balance:           a.balance + a.pm.GetTotalUnrealizedPnL(),
		MaxLeverage:       1.0, // spot-only; no margin exposure through this adapter
		MaintenanceMargin: 0,
	}, nil
}

func fromDBPosition(p *db.Position) model.Position {
	side := model.SideLong
	if p.Side == db.PositionSideShort {
		side = model.SideShort
	}
	var currentPrice float64
	if p.ExitPrice != nil {
		currentPrice = *p.ExitPrice
	} else {
		currentPrice = p.EntryPrice
	}
	return model.Position{
		PositionID:     p.ID.String(),
		Instrument:     p.Symbol,
		Side:           side,
		Size:           p.Quantity,
		EntryPrice:     p.EntryPrice,
		EntryTimestamp: p.EntryTime,
		CurrentPrice:   currentPrice,
		StopLossPrice:  p.StopLoss,
		TakeProfitPrice: p.TakeProfit,
	}
}

var _ ports.ExecutionPort = (*CoreExecutionPort)(nil)
