package metric

import (
	"context"
	"fmt"
)

type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Collector computes the scheduled metrics from the store.
type Collector struct {
	identities Counter
	optouts    Counter
}

func NewCollector(identities, optouts Counter) *Collector {
	return &Collector{identities: identities, optouts: optouts}
}

func (c *Collector) Collect(ctx context.Context) (map[string]float64, error) {
	identities, err := c.identities.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count identities: %w", err)
	}
	optouts, err := c.optouts.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count optouts: %w", err)
	}
	return map[string]float64{
		IdentitiesTotal: float64(identities),
		OptOutsTotal:    float64(optouts),
	}, nil
}
