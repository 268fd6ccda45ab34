package cli

import (
	"io"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/importdesk/importdesk/internal/sales"
)

// PrintInvoice writes a plain-text invoice with grouped thousands.
func PrintInvoice(out io.Writer, inv sales.InvoiceWithItems) error {
	p := message.NewPrinter(language.English)
	h := inv.Invoice
	status := "UNPAID"
	switch {
	case h.FullyRefunded:
		status = "REFUNDED"
	case h.IsPaid:
		status = "PAID"
	}
	if _, err := p.Fprintf(out, "Invoice %s  [%s]\n", h.Number, status); err != nil {
		return err
	}
	_, _ = p.Fprintf(out, "Customer #%d  GD #%d  Section %s  Date %s\n",
		h.CustomerID, h.GDID, h.TaxSection, h.CreatedAt.Format("2006-01-02"))
	_, _ = p.Fprintln(out, strings.Repeat("-", 60))
	_, _ = p.Fprintf(out, "%-24s %10s %12s %12s\n", "Item", "Qty", "Rate", "Amount")
	for _, it := range inv.Items {
		qty := it.QuantitySold - it.QuantityReturned
		_, _ = p.Fprintf(out, "%-24s %10.2f %12.2f %12.2f\n", it.ItemID, qty, it.SaleRate, qty*it.SaleRate)
	}
	_, _ = p.Fprintln(out, strings.Repeat("-", 60))
	_, _ = p.Fprintf(out, "%-48s %12.2f\n", "Sales tax", h.SalesTax)
	_, _ = p.Fprintf(out, "%-48s %12.2f\n", "Withholding tax", h.WithholdingTax)
	_, err := p.Fprintf(out, "%-48s %12.2f\n", "Gross total", h.GrossTotal)
	if err != nil {
		return err
	}
	if h.TotalRefund > 0 {
		_, _ = p.Fprintf(out, "%-48s %12.2f\n", "Refunded", h.TotalRefund)
	}
	return nil
}
