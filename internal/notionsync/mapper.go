package notionsync

import (
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"
)

// Property names of the Notion ledger database.
const (
	propDescription   = "Description"
	propDate          = "Date"
	propAmount        = "Amount"
	propType          = "Type"
	propCategory      = "Category"
	propAccount       = "Account"
	propDestAccount   = "Destination Account"
	propLoanRef       = "Loan"
	propTransactionID = "Transaction ID"
	propImportedAt    = "Imported At"
)

// TransactionToNotionProperties converts a ledger transaction to Notion properties.
// Empty optional fields are omitted so Notion keeps its own defaults.
func TransactionToNotionProperties(tx domain.Transaction) notionapi.Properties {
	amount, _ := tx.Amount.Float64()
	date := notionapi.Date(time.Date(tx.Date.Year(), tx.Date.Month(), tx.Date.Day(), 0, 0, 0, 0, time.UTC))

	props := notionapi.Properties{
		propDescription: notionapi.TitleProperty{
			Title: richText(tx.Description),
		},
		propDate: notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &date},
		},
		propAmount: notionapi.NumberProperty{
			Number: amount,
		},
		propType: notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(tx.Type)},
		},
		propTransactionID: notionapi.RichTextProperty{
			RichText: richText(tx.ID),
		},
	}

	if tx.Category != "" {
		props[propCategory] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Category},
		}
	}
	if tx.SourceAccount != "" {
		props[propAccount] = notionapi.RichTextProperty{RichText: richText(tx.SourceAccount)}
	}
	if tx.DestAccount != "" {
		props[propDestAccount] = notionapi.RichTextProperty{RichText: richText(tx.DestAccount)}
	}
	if tx.LoanRef != "" {
		props[propLoanRef] = notionapi.RichTextProperty{RichText: richText(tx.LoanRef)}
	}
	if !tx.CreatedAt.IsZero() {
		imported := notionapi.Date(tx.CreatedAt)
		props[propImportedAt] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &imported},
		}
	}

	return props
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{
				Content: content,
			},
		},
	}
}

// extractTransactionID extracts the transaction ID from a Notion page's properties.
// Returns empty string if not found.
func extractTransactionID(page notionapi.Page) string {
	if prop, ok := page.Properties[propTransactionID]; ok {
		if rt, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(rt.RichText) > 0 {
				return rt.RichText[0].PlainText
			}
		}
	}
	return ""
}

// extractDate returns the page's transaction date, or false when it has none.
func extractDate(page notionapi.Page) (time.Time, bool) {
	if prop, ok := page.Properties[propDate]; ok {
		if dp, ok := prop.(*notionapi.DateProperty); ok && dp.Date != nil && dp.Date.Start != nil {
			return time.Time(*dp.Date.Start), true
		}
	}
	return time.Time{}, false
}

// drifted reports whether the page's description or amount no longer match tx.
func drifted(page notionapi.Page, tx domain.Transaction) bool {
	var title string
	if prop, ok := page.Properties[propDescription]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok && len(tp.Title) > 0 {
			title = tp.Title[0].PlainText
		}
	}
	var amount float64
	if prop, ok := page.Properties[propAmount]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			amount = np.Number
		}
	}
	return title != tx.Description || !decimal.NewFromFloat(amount).Equal(tx.Amount)
}
