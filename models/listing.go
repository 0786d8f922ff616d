package models

import "time"

// Target is one unit of work supplied by the caller. Immutable.
type Target struct {
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Category string `json:"category"`
}

// RawItem holds the untyped fields a provider pulled off a page or API
// payload before normalization.
type RawItem struct {
	Title        string
	Price        string
	Currency     string
	Availability string
	URL          string
	ImageURL     string
}

// Listing is the canonical normalized record handed to downstream
// consumers. Price is an integer in the smallest currency unit; floats
// never appear so rounding drift cannot accumulate downstream.
type Listing struct {
	Title           string    `csv:"title" json:"title"`
	TitleLocalized  string    `csv:"title_localized" json:"title_localized,omitempty"`
	PriceMinorUnits int64     `csv:"price_minor_units" json:"price_minor_units"`
	Currency        string    `csv:"currency" json:"currency"`
	VendorDomain    string    `csv:"vendor_domain" json:"vendor_domain"`
	Available       bool      `csv:"available" json:"available"`
	// AvailabilityAssumed marks records where the availability text was
	// ambiguous and the default policy (available) was applied.
	AvailabilityAssumed bool      `csv:"availability_assumed" json:"availability_assumed,omitempty"`
	URL                 string    `csv:"url" json:"url"`
	ImageURL            string    `csv:"image_url" json:"image_url"`
	ScrapedAt           time.Time `csv:"scraped_at" json:"scraped_at"`
}
