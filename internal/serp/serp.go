package serp

import (
	"context"

	"github.com/FranksOps/rankscout/internal/model"
)

// Request is one page of a local search.
type Request struct {
	Query    string
	Country  string
	Language string
	// Page is 1-based.
	Page   int
	Device string
	// Point biases results towards a location. Nil means no bias.
	Point *model.GeoPoint
}

// Listing is one raw local result as returned upstream, in page order.
type Listing struct {
	Position    int     `json:"position"`
	Title       string  `json:"title"`
	Address     string  `json:"address"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Rating      float64 `json:"rating"`
	RatingCount int     `json:"ratingCount"`
	Category    string  `json:"category"`
	Phone       string  `json:"phoneNumber"`
	Website     string  `json:"website"`
	CID         string  `json:"cid"`
}

// Provider abstracts a local search backend returning one page of listings
// per call. An empty slice with a nil error means the result stream is
// exhausted. Implementations do not retry; see Retrying.
type Provider interface {
	Search(ctx context.Context, req Request) ([]Listing, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) ([]Listing, error)

func (f ProviderFunc) Search(ctx context.Context, req Request) ([]Listing, error) {
	return f(ctx, req)
}
