// Package recipient turns uploaded tabular contact lists into campaign
// recipients.
package recipient

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

type columns struct {
	name, email, company, jobTitle int
}

// Parse reads comma separated contacts. The first row is the header; the
// name and email columns are the first headers containing "name" and
// "email" (case-insensitive). Rows without both a name and an email are
// skipped. Duplicates are kept.
func Parse(raw string) ([]campaign.Recipient, error) {
	return ParseReader(strings.NewReader(raw))
}

func ParseFile(path string) ([]campaign.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseReader(f)
}

func ParseReader(r io.Reader) ([]campaign.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &campaign.FormatError{Reason: "input is empty"}
	}
	if err != nil {
		return nil, &campaign.FormatError{Reason: err.Error()}
	}

	cols, err := locate(header)
	if err != nil {
		return nil, err
	}

	var out []campaign.Recipient
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				continue
			}
			return nil, &campaign.FormatError{Reason: err.Error()}
		}

		name := field(row, cols.name)
		email := field(row, cols.email)
		if name == "" || email == "" {
			continue
		}
		out = append(out, campaign.Recipient{
			Name:     name,
			Email:    email,
			Company:  field(row, cols.company),
			JobTitle: field(row, cols.jobTitle),
		})
	}

	if len(out) == 0 {
		return nil, &campaign.EmptyResultError{}
	}
	return out, nil
}

func locate(header []string) (columns, error) {
	cols := columns{name: -1, email: -1, company: -1, jobTitle: -1}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		if cols.name < 0 && strings.Contains(h, "name") {
			cols.name = i
		}
		if cols.email < 0 && strings.Contains(h, "email") {
			cols.email = i
		}
	}
	if cols.name < 0 {
		return cols, &campaign.FormatError{Reason: "no column header contains \"name\""}
	}
	if cols.email < 0 {
		return cols, &campaign.FormatError{Reason: "no column header contains \"email\""}
	}

	for i, h := range header {
		if i == cols.name || i == cols.email {
			continue
		}
		h = strings.ToLower(strings.TrimSpace(h))
		if cols.company < 0 && strings.Contains(h, "company") {
			cols.company = i
		}
		if cols.jobTitle < 0 && (strings.Contains(h, "job") || strings.Contains(h, "title")) {
			cols.jobTitle = i
		}
	}
	return cols, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
