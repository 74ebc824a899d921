package claim

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// exportHeader is the fixed NDIA column order.
var exportHeader = []string{"NdisNumber", "PlanNumber", "ItemCode", "Quantity", "Amount", "ClaimReference"}

// Export renders the claim as UTF-8 CSV, one row per invoice line,
// amounts as decimal dollars with exactly two fraction digits.
func (s *Settlement) Export(claimID string) ([]byte, error) {
	s.mu.RLock()
	c, err := s.getLocked(claimID)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return s.render(c)
}

// render builds the CSV from a claim value the caller has already
// fixed; it takes no locks so Submit can render a frozen membership.
func (s *Settlement) render(c Claim) ([]byte, error) {
	reference := c.ID
	if c.ExternalRef != "" {
		reference = c.ExternalRef
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}

	for _, invoiceID := range c.InvoiceIDs {
		inv, err := s.repo.Get(invoiceID)
		if err != nil {
			return nil, err
		}
		p, err := s.directory.Plan(inv.PlanID)
		if err != nil {
			return nil, err
		}
		participant, err := s.directory.Participant(p.ParticipantID)
		if err != nil {
			return nil, err
		}

		for _, line := range inv.Lines {
			record := []string{
				participant.NdisNumber,
				p.PlanNumber,
				line.ItemCode,
				strconv.FormatInt(line.Quantity, 10),
				line.Total.Dollars(),
				reference,
			}
			if err := w.Write(record); err != nil {
				return nil, err
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write claim export: %w", err)
	}
	return buf.Bytes(), nil
}
