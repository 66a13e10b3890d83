package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/stockbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier escribiendo a stdout.
// Los eventos salen en una línea; el settlement diario sale en tabla.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime el evento. Nunca devuelve error — la consola no falla
// de forma que al trading le importe.
func (c *Console) Notify(_ context.Context, ev domain.Event) error {
	ts := ev.At.Format("15:04:05")
	fmt.Fprintf(c.out, "[%s] %s %s: %s\n", ts, severityIcon(ev.Severity), ev.Type, ev.Message)

	if len(ev.Detail) > 0 && !c.table {
		fmt.Fprintf(c.out, "        %s\n", compactDetail(ev.Detail))
	}
	return nil
}

// PrintSettlement imprime la tabla de settlement diario: posiciones con
// su mark y el PnL realizado/no realizado del día.
func (c *Console) PrintSettlement(positions []domain.Position, marks map[string]float64, realized, unrealized float64) {
	fmt.Fprintf(c.out, "\n=== DAILY SETTLEMENT %s ===\n", time.Now().Format("2006-01-02"))

	table := tablewriter.NewWriter(c.out)
	table.Header("Symbol", "Qty", "AvgPrice", "Mark", "Unrealized", "Origin")

	for _, pos := range positions {
		mark := marks[pos.Symbol]
		table.Append(
			pos.Symbol,
			fmt.Sprintf("%.0f", pos.Quantity),
			fmt.Sprintf("%.2f", pos.AvgPrice),
			fmt.Sprintf("%.2f", mark),
			fmt.Sprintf("%+.2f", pos.UnrealizedPnL(mark)),
			string(pos.Origin),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  realized: %+.2f | unrealized: %+.2f | total: %+.2f\n",
		realized, unrealized, realized+unrealized)
}

func severityIcon(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "✗"
	case domain.SeverityWarning:
		return "!"
	default:
		return "·"
	}
}

// compactDetail aplana el detail map en "k=v k=v" con keys ordenadas.
func compactDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", k, detail[k])
	}
	return sb.String()
}
