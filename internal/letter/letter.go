// ABOUTME: Sanction letter rendering for approved loan applications
// ABOUTME: Builds a markdown letter body and converts it to HTML with goldmark

package letter

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Data carries everything the letter template needs.
type Data struct {
	CustomerName  string
	CustomerID    string
	ApplicationID string
	Amount        int64
	TenureMonths  int
	AnnualRate    float64
	EMI           float64
	IssuedAt      time.Time
}

// Renderer converts letter data into a stored HTML document.
type Renderer struct {
	md goldmark.Markdown
}

// NewRenderer creates a renderer with table support for the terms section.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Markdown produces the letter body as markdown.
func (r *Renderer) Markdown(d Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Loan Sanction Letter\n\n")
	fmt.Fprintf(&b, "**Date:** %s\n\n", d.IssuedAt.Format("02 January 2006"))
	fmt.Fprintf(&b, "**Reference:** %s\n\n", d.ApplicationID)
	fmt.Fprintf(&b, "Dear %s (%s),\n\n", d.CustomerName, d.CustomerID)
	fmt.Fprintf(&b, "We are pleased to inform you that your loan application has been sanctioned on the following terms:\n\n")
	fmt.Fprintf(&b, "| Term | Value |\n|------|-------|\n")
	fmt.Fprintf(&b, "| Sanctioned Amount | ₹%d |\n", d.Amount)
	fmt.Fprintf(&b, "| Tenure | %d months |\n", d.TenureMonths)
	fmt.Fprintf(&b, "| Interest Rate | %.2f%% p.a. |\n", d.AnnualRate)
	fmt.Fprintf(&b, "| Monthly EMI | ₹%.2f |\n\n", d.EMI)
	fmt.Fprintf(&b, "This sanction is valid for 30 days from the date of issue and is subject to the execution of the loan agreement.\n\n")
	fmt.Fprintf(&b, "Sincerely,\n\nFinWell Lending\n")
	return b.String()
}

// Render produces the final HTML letter content.
func (r *Renderer) Render(d Data) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>Loan Sanction Letter</title></head><body>\n")
	if err := r.md.Convert([]byte(r.Markdown(d)), &buf); err != nil {
		return nil, fmt.Errorf("rendering letter markdown: %w", err)
	}
	buf.WriteString("</body></html>\n")
	return buf.Bytes(), nil
}
