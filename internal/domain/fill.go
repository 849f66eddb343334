package domain

// Fill is the unit consumed by the flow analyzer and the position builder.
// Imported round-trip records carry both entry and exit fields; fills converted
// from executions only carry the entry side.
type Fill struct {
	ExecutionID int64
	Account     string
	Instrument  string
	Side        Side
	Quantity    int64

	EntryPrice *float64 // nullable, see Price
	EntryTime  int64    // Unix ms
	ExitPrice  *float64 // populated for already closed round-trips
	ExitTime   *int64

	Commission float64
}

// FillFromExecution converts a stored execution into a fill.
func FillFromExecution(e *Execution) Fill {
	price := e.Price
	return Fill{
		ExecutionID: e.ID,
		Account:     e.Account,
		Instrument:  e.Instrument,
		Side:        e.Side,
		Quantity:    e.Quantity,
		EntryPrice:  &price,
		EntryTime:   e.Timestamp,
		Commission:  e.Commission,
	}
}

// FillsFromExecutions converts executions preserving order.
func FillsFromExecutions(execs []*Execution) []Fill {
	fills := make([]Fill, 0, len(execs))
	for _, e := range execs {
		fills = append(fills, FillFromExecution(e))
	}
	return fills
}

// Price returns the price used for lot matching.
//
// Upstream imports tag some short entries with only the exit price column set.
// When EntryPrice is nil and ExitPrice is populated, ExitPrice is used as the
// entry price of the fill.
func (f Fill) Price() (float64, bool) {
	if f.EntryPrice != nil {
		return *f.EntryPrice, true
	}
	if f.ExitPrice != nil {
		return *f.ExitPrice, true
	}
	return 0, false
}

// Time returns the time used to order the fill.
func (f Fill) Time() int64 {
	return f.EntryTime
}

// LastTime returns the latest timestamp carried by the fill.
func (f Fill) LastTime() int64 {
	if f.ExitTime != nil && *f.ExitTime > f.EntryTime {
		return *f.ExitTime
	}
	return f.EntryTime
}

// SignedQuantity returns +quantity for buys, -quantity for sells, 0 for unknown sides.
func (f Fill) SignedQuantity() int64 {
	return f.Side.Sign() * f.Quantity
}

// WithQuantity returns a copy of the fill carrying qty contracts and the
// matching pro-rata share of its commission.
func (f Fill) WithQuantity(qty int64) Fill {
	out := f
	if f.Quantity > 0 {
		out.Commission = f.Commission * float64(qty) / float64(f.Quantity)
	}
	out.Quantity = qty
	return out
}

// Execution converts the fill back into an execution view carrying the fill's
// quantity and matching price. Used when validating freshly built positions.
func (f Fill) Execution() *Execution {
	price, _ := f.Price()
	return &Execution{
		ID:         f.ExecutionID,
		Account:    f.Account,
		Instrument: f.Instrument,
		Side:       f.Side,
		Quantity:   f.Quantity,
		Price:      price,
		Timestamp:  f.Time(),
		Commission: f.Commission,
		Processed:  true,
	}
}
