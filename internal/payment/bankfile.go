package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/planpay/planledger/internal/money"
)

// recordWidth is the fixed direct-entry record length.
const recordWidth = 120

// creditTransactionCode is the direct-entry code for a general credit.
const creditTransactionCode = "50"

// Remitter is the originating account the file is drawn on.
type Remitter struct {
	BankAbbreviation string
	UserName         string
	UserID           string
	BSB              string
	AccountNumber    string
	Description      string
}

// detail is one payee credit in the file.
type detail struct {
	BSB           string
	AccountNumber string
	AccountName   string
	Amount        money.Money
	Reference     string
}

// buildBankFile renders a direct-entry file: one descriptor record, one
// detail record per payee, one trailer whose net total must equal the
// sum of the detail amounts. The caller checks that sum against the
// invoice totals before any batch transition.
func buildBankFile(remitter Remitter, fileSequence int, processing time.Time, details []detail) (string, money.Money, error) {
	var sb strings.Builder
	var total money.Money

	sb.WriteString(descriptorRecord(remitter, fileSequence, processing))
	sb.WriteByte('\n')

	for _, d := range details {
		sum, err := total.Add(d.Amount)
		if err != nil {
			return "", money.Money{}, err
		}
		total = sum
		sb.WriteString(detailRecord(remitter, d))
		sb.WriteByte('\n')
	}

	sb.WriteString(trailerRecord(total, len(details)))
	sb.WriteByte('\n')
	return sb.String(), total, nil
}

func descriptorRecord(remitter Remitter, fileSequence int, processing time.Time) string {
	var sb strings.Builder
	sb.WriteByte('0')
	sb.WriteString(strings.Repeat(" ", 17))
	sb.WriteString(fmt.Sprintf("%02d", fileSequence))
	sb.WriteString(padRight(remitter.BankAbbreviation, 3))
	sb.WriteString(strings.Repeat(" ", 7))
	sb.WriteString(padRight(remitter.UserName, 26))
	sb.WriteString(padLeftZero(remitter.UserID, 6))
	sb.WriteString(padRight(remitter.Description, 12))
	sb.WriteString(processing.Format("020106"))
	sb.WriteString(strings.Repeat(" ", 40))
	return sb.String()
}

func detailRecord(remitter Remitter, d detail) string {
	var sb strings.Builder
	sb.WriteByte('1')
	sb.WriteString(padRight(d.BSB, 7))
	sb.WriteString(padLeft(d.AccountNumber, 9))
	sb.WriteByte(' ')
	sb.WriteString(creditTransactionCode)
	sb.WriteString(fmt.Sprintf("%010d", d.Amount.Cents()))
	sb.WriteString(padRight(d.AccountName, 32))
	sb.WriteString(padRight(d.Reference, 18))
	sb.WriteString(padRight(remitter.BSB, 7))
	sb.WriteString(padLeft(remitter.AccountNumber, 9))
	sb.WriteString(padRight(remitter.UserName, 16))
	sb.WriteString(strings.Repeat("0", 8))
	return sb.String()
}

func trailerRecord(net money.Money, count int) string {
	var sb strings.Builder
	sb.WriteByte('7')
	sb.WriteString("999-999")
	sb.WriteString(strings.Repeat(" ", 12))
	sb.WriteString(fmt.Sprintf("%010d", net.Cents()))
	sb.WriteString(fmt.Sprintf("%010d", net.Cents()))
	sb.WriteString(strings.Repeat("0", 10))
	sb.WriteString(strings.Repeat(" ", 24))
	sb.WriteString(fmt.Sprintf("%06d", count))
	sb.WriteString(strings.Repeat(" ", 40))
	return sb.String()
}

func padRight(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padLeftZero(s string, width int) string {
	if len(s) > width {
		return s[len(s)-width:]
	}
	return strings.Repeat("0", width-len(s)) + s
}
