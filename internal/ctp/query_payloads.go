package ctp

import "github.com/shopspring/decimal"

// Account is the trading-account funds snapshot returned by QueryAccount.
type Account struct {
	AccountID  string
	Balance    decimal.Decimal
	Available  decimal.Decimal
	Margin     decimal.Decimal
	FrozenCash decimal.Decimal
	TradingDay string
}

// Position is one entry of the investor position list.
type Position struct {
	InstrumentID string
	Direction    Direction
	Volume       int
	TodayVolume  int
	OpenCost     decimal.Decimal
	Margin       decimal.Decimal
}

// Settlement is the settlement statement content returned by QuerySettlement.
type Settlement struct {
	TradingDay string
	Content    string
}
