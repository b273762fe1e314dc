// Package paper simulates order execution against session-local virtual
// capital. Fills are immediate: market orders at the supplied last
// traded price, limit orders at their limit.
package paper

import (
	"fmt"
	"math"
	"sync"
	"time"

	"chartvision/pkg/brokers/common"
)

// DefaultCapital is the starting balance for a fresh engine.
const DefaultCapital = 100_000

// Position is an open simulated position.
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	PnL          float64 `json:"pnl"`
	Side         string  `json:"side"`
}

// Order is a filled simulated order record.
type Order struct {
	OrderID         string  `json:"order_id"`
	Symbol          string  `json:"symbol"`
	Exchange        string  `json:"exchange"`
	TransactionType string  `json:"transaction_type"`
	OrderType       string  `json:"order_type"`
	Quantity        int     `json:"quantity"`
	Price           float64 `json:"price"`
	Status          string  `json:"status"`
	FilledQuantity  int     `json:"filled_quantity"`
	Timestamp       string  `json:"timestamp"`
}

// Trade is a closed round trip.
type Trade struct {
	Symbol    string  `json:"symbol"`
	Entry     float64 `json:"entry"`
	Exit      float64 `json:"exit"`
	Quantity  int     `json:"quantity"`
	PnL       float64 `json:"pnl"`
	Side      string  `json:"side"`
	Timestamp string  `json:"timestamp"`
}

// Engine is one session's simulator. All state sits behind a single
// mutex; order flow per session is low.
type Engine struct {
	mu        sync.Mutex
	capital   float64
	available float64
	positions []*Position
	orders    []Order
	trades    []Trade
	counter   int

	now func() time.Time
}

func NewEngine(capital float64) *Engine {
	if capital <= 0 {
		capital = DefaultCapital
	}
	return &Engine{
		capital:   capital,
		available: capital,
		counter:   1000,
		now:       time.Now,
	}
}

// PlaceOrder fills the order against virtual capital. ltp is the last
// traded price used for market orders and as the limit fallback.
func (e *Engine) PlaceOrder(req common.OrderRequest, ltp float64) common.OrderResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.counter++
	price := ltp
	if req.Type != common.OrderTypeMarket && req.Price > 0 {
		price = req.Price
	}
	if price <= 0 {
		return common.ErrorResult("Invalid price")
	}
	value := price * float64(req.Quantity)

	if req.Side == common.SideBuy {
		if value > e.available {
			return common.ErrorResult("Insufficient margin: need ₹%.0f, have ₹%.0f", value, e.available)
		}
		e.available -= value
		if pos := e.findLong(req.Symbol); pos != nil {
			total := pos.Quantity + req.Quantity
			pos.AveragePrice = (pos.AveragePrice*float64(pos.Quantity) + value) / float64(total)
			pos.Quantity = total
		} else {
			e.positions = append(e.positions, &Position{
				Symbol: req.Symbol, Quantity: req.Quantity, AveragePrice: price, Side: "LONG",
			})
		}
	} else {
		if pos := e.findLong(req.Symbol); pos != nil {
			closed := min(req.Quantity, pos.Quantity)
			pnl := (price - pos.AveragePrice) * float64(closed)
			entry := pos.AveragePrice
			pos.Quantity -= closed
			e.capital += pnl
			e.available += price * float64(closed)
			e.trades = append(e.trades, Trade{
				Symbol: req.Symbol, Entry: entry, Exit: price, Quantity: closed,
				PnL: round2(pnl), Side: "LONG", Timestamp: e.now().Format(time.RFC3339),
			})
			// Oversold quantity flips into a fresh short.
			if rem := req.Quantity - closed; rem > 0 {
				e.positions = append(e.positions, &Position{
					Symbol: req.Symbol, Quantity: rem, AveragePrice: price, Side: "SHORT",
				})
			}
		} else {
			e.positions = append(e.positions, &Position{
				Symbol: req.Symbol, Quantity: req.Quantity, AveragePrice: price, Side: "SHORT",
			})
		}
	}

	rec := Order{
		OrderID:         fmt.Sprintf("PAPER_%d", e.counter),
		Symbol:          req.Symbol,
		Exchange:        req.Exchange,
		TransactionType: string(req.Side),
		OrderType:       string(req.Type),
		Quantity:        req.Quantity,
		Price:           price,
		Status:          "COMPLETE",
		FilledQuantity:  req.Quantity,
		Timestamp:       e.now().Format(time.RFC3339),
	}
	e.orders = append(e.orders, rec)
	return common.OrderResult{
		Status:  "success",
		OrderID: rec.OrderID,
		Data: map[string]any{
			"order_id": rec.OrderID, "symbol": rec.Symbol, "exchange": rec.Exchange,
			"transaction_type": rec.TransactionType, "order_type": rec.OrderType,
			"quantity": rec.Quantity, "price": rec.Price, "status": rec.Status,
			"filled_quantity": rec.FilledQuantity, "timestamp": rec.Timestamp,
		},
	}
}

// findLong returns the open LONG position for symbol, if any. Caller
// holds e.mu.
func (e *Engine) findLong(symbol string) *Position {
	for _, p := range e.positions {
		if p.Symbol == symbol && p.Side == "LONG" && p.Quantity > 0 {
			return p
		}
	}
	return nil
}

// Positions lists open positions.
func (e *Engine) Positions() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Quantity > 0 {
			out = append(out, *p)
		}
	}
	return out
}

// Orders lists every filled order this session.
func (e *Engine) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Order, len(e.orders))
	copy(out, e.orders)
	return out
}

// Margins reports available and utilised virtual funds in the same
// shape live brokers use.
func (e *Engine) Margins() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return map[string]any{
		"equity": map[string]any{
			"available": map[string]any{"cash": round2(e.available)},
			"utilised":  map[string]any{"total": round2(e.capital - e.available)},
		},
	}
}

// Stats summarizes session performance.
func (e *Engine) Stats() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total float64
	wins, losses := 0, 0
	for _, t := range e.trades {
		total += t.PnL
		if t.PnL > 0 {
			wins++
		} else {
			losses++
		}
	}
	n := len(e.trades)
	winRate := 0.0
	if n > 0 {
		winRate = math.Round(float64(wins)/float64(n)*1000) / 10
	}

	open := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Quantity > 0 {
			open = append(open, *p)
		}
	}
	recent := e.trades
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	recentCopy := make([]Trade, len(recent))
	copy(recentCopy, recent)

	return map[string]any{
		"capital":       round2(e.capital),
		"available":     round2(e.available),
		"total_pnl":     round2(total),
		"total_trades":  n,
		"wins":          wins,
		"losses":        losses,
		"win_rate":      winRate,
		"positions":     open,
		"recent_trades": recentCopy,
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
