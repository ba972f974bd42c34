package gate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jonathan/marketsync/internal/seller"
	"github.com/jonathan/marketsync/internal/types"
)

// Required column sets per data source. These are the columns the loaders
// depend on; anything else in a report is carried or ignored per rule.
var (
	ProductColumns = []string{"Offer ID", "Name"}
	StockColumns   = []string{"SKU", "Warehouse name", "Present", "Reserved"}
	SaleColumns    = []string{"Posting number", "Offer ID", "Quantity", "Price", "Created at"}
)

const maxIdentifierLen = 50

// identifierPattern is the allowed character set for offer ids, SKUs and
// posting numbers.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

func checkIdentifier(name, value string) string {
	if value == "" {
		return name + " is empty"
	}
	if len(value) > maxIdentifierLen {
		return fmt.Sprintf("%s exceeds %d characters", name, maxIdentifierLen)
	}
	if !identifierPattern.MatchString(value) {
		return fmt.Sprintf("%s %q contains invalid characters", name, value)
	}
	return ""
}

func parseCount(name, value string) (int, string) {
	if value == "" {
		return 0, name + " is empty"
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Sprintf("%s %q is not an integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Sprintf("%s is negative (%d)", name, n)
	}
	return n, ""
}

// checkPrice accepts an empty price (preserved on upsert) or a non-negative
// decimal, normalizing a comma decimal separator.
func checkPrice(value string) (string, string) {
	if value == "" {
		return "", ""
	}
	normalized := strings.ReplaceAll(value, ",", ".")
	f, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return "", fmt.Sprintf("price %q is not numeric", value)
	}
	if f < 0 {
		return "", fmt.Sprintf("price is negative (%s)", value)
	}
	return normalized, ""
}

// ProductFromRow normalizes one catalog row.
func ProductFromRow(row seller.Row) (types.Product, string) {
	offerID := row["Offer ID"]
	if reason := checkIdentifier("offer id", offerID); reason != "" {
		return types.Product{}, reason
	}
	name := strings.TrimSpace(row["Name"])
	if name == "" {
		return types.Product{}, "name is empty"
	}
	price, reason := checkPrice(row["Price"])
	if reason != "" {
		return types.Product{}, reason
	}
	return types.Product{
		OfferID:  offerID,
		Name:     name,
		Barcode:  strings.TrimSpace(row["Barcode"]),
		Category: strings.TrimSpace(row["Category"]),
		Price:    price,
	}, ""
}

// StockFromRow normalizes one inventory snapshot row. Available quantity is
// derived here so the warehouse never stores an inconsistent triple.
func StockFromRow(row seller.Row) (types.Stock, string) {
	sku := row["SKU"]
	if reason := checkIdentifier("SKU", sku); reason != "" {
		return types.Stock{}, reason
	}
	warehouse := strings.TrimSpace(row["Warehouse name"])
	if warehouse == "" {
		return types.Stock{}, "warehouse name is empty"
	}
	present, reason := parseCount("present", row["Present"])
	if reason != "" {
		return types.Stock{}, reason
	}
	reserved, reason := parseCount("reserved", row["Reserved"])
	if reason != "" {
		return types.Stock{}, reason
	}
	if reserved > present {
		return types.Stock{}, fmt.Sprintf("reserved (%d) exceeds present (%d)", reserved, present)
	}
	return types.Stock{
		SKU:       sku,
		Warehouse: warehouse,
		Present:   present,
		Reserved:  reserved,
		Available: present - reserved,
	}, ""
}

// saleTimeFormats covers the timestamp layouts postings have shipped with.
var saleTimeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// SaleFromRow normalizes one posting line.
func SaleFromRow(row seller.Row) (types.Sale, string) {
	posting := row["Posting number"]
	if reason := checkIdentifier("posting number", posting); reason != "" {
		return types.Sale{}, reason
	}
	offerID := row["Offer ID"]
	if reason := checkIdentifier("offer id", offerID); reason != "" {
		return types.Sale{}, reason
	}
	qty, reason := parseCount("quantity", row["Quantity"])
	if reason != "" {
		return types.Sale{}, reason
	}
	if qty == 0 {
		return types.Sale{}, "quantity is zero"
	}
	price, reason := checkPrice(row["Price"])
	if reason != "" {
		return types.Sale{}, reason
	}
	if price == "" {
		return types.Sale{}, "price is empty"
	}

	rawTime := row["Created at"]
	var createdAt time.Time
	var err error
	for _, layout := range saleTimeFormats {
		createdAt, err = time.Parse(layout, rawTime)
		if err == nil {
			break
		}
	}
	if err != nil {
		return types.Sale{}, fmt.Sprintf("created at %q is not a recognized timestamp", rawTime)
	}

	return types.Sale{
		PostingNumber: posting,
		OfferID:       offerID,
		Status:        strings.TrimSpace(row["Status"]),
		Quantity:      qty,
		Price:         price,
		CreatedAt:     createdAt.UTC(),
	}, ""
}
