package strategy

import "context"

// Watchlist implementa ports.Scanner con una lista fija de símbolos.
type Watchlist struct {
	symbols []string
}

// NewWatchlist crea el scanner con los símbolos configurados.
func NewWatchlist(symbols []string) *Watchlist {
	return &Watchlist{symbols: symbols}
}

// Candidates devuelve la lista configurada tal cual.
func (w *Watchlist) Candidates(context.Context) ([]string, error) {
	return w.symbols, nil
}
